package driven

import (
	"context"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

// QuotaStore holds per-tenant sliding-window counters.
// Admit must be linearizable per tenant: check and increment happen in
// one critical section keyed by the tenant ID.
type QuotaStore interface {
	// Admit checks limits and reserves one query plus estimatedTokens
	Admit(ctx context.Context, tenantID string, limits domain.QuotaLimits, estimatedTokens int64) (domain.QuotaDecision, error)

	// Reconcile adjusts the token count by deltaTokens (may be negative)
	Reconcile(ctx context.Context, tenantID string, window domain.QuotaLimits, deltaTokens int64) error

	// Usage returns the tenant's current counter
	Usage(ctx context.Context, tenantID string, limits domain.QuotaLimits) (*domain.QuotaCounter, error)
}

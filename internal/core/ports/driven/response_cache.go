package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

// ResponseCache memoizes query results by key with a TTL
type ResponseCache interface {
	// Epoch returns the tenant's current cache epoch (0 before any invalidation)
	Epoch(ctx context.Context, tenantID string) (int64, error)


	// Get returns the stored result, or domain.ErrNotFound on miss or expiry
	Get(ctx context.Context, key domain.CacheKey) (*domain.QueryResult, error)

	// Set stores result under key for ttl. Writes under an epoch that is
	// no longer current must never become visible to Get.
	Set(ctx context.Context, key domain.CacheKey, result *domain.QueryResult, ttl time.Duration) error

	// InvalidateTenant advances the tenant's epoch, drops its entries and
	// returns how many were dropped
	InvalidateTenant(ctx context.Context, tenantID string) (int, error)
}

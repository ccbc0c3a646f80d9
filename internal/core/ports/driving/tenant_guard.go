package driving

import (
	"context"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

// TenantGuard resolves authenticated principals into tenant scopes.
// It is the only producer of domain.TenantContext values.
type TenantGuard interface {
	// Resolve scopes an authenticated principal.
	// Returns ErrUnauthorized if no tenant resolves, ErrForbidden if it is inactive.
	Resolve(ctx context.Context, principal domain.Principal) (domain.TenantContext, error)

	// AuthenticateToken verifies a bearer token and resolves its tenant
	AuthenticateToken(ctx context.Context, token string) (domain.TenantContext, error)

	// AuthenticateAPIKey verifies a "<id>.<secret>" key and resolves its tenant
	AuthenticateAPIKey(ctx context.Context, key string) (domain.TenantContext, error)
}

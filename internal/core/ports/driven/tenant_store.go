package driven

import (
	"context"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

// TenantStore reads tenants provisioned by tenant management
type TenantStore interface {
	// Get retrieves a tenant by ID
	Get(ctx context.Context, id string) (*domain.Tenant, error)
}

// APIKeyStore reads API keys issued to tenant principals
type APIKeyStore interface {
	// GetAPIKey retrieves a key by its public ID
	GetAPIKey(ctx context.Context, keyID string) (*domain.APIKey, error)

	// TouchAPIKey records a successful use
	TouchAPIKey(ctx context.Context, keyID string) error
}

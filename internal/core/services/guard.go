package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driving"
)

// Ensure tenantGuard implements TenantGuard
var _ driving.TenantGuard = (*tenantGuard)(nil)

const tenantLookupTimeout = 5 * time.Second

// tenantGuard is the single producer of TenantContext values
type tenantGuard struct {
	tenants driven.TenantStore
	keys    driven.APIKeyStore
	auth    driven.AuthAdapter
	logger  *slog.Logger

	// lookups coalesces concurrent reads of the same tenant
	lookups singleflight.Group
}

// TenantGuardConfig holds the guard's collaborators.
type TenantGuardConfig struct {
	Tenants driven.TenantStore
	APIKeys driven.APIKeyStore // Optional: API key authentication is disabled when nil
	Auth    driven.AuthAdapter
	Logger  *slog.Logger
}

// NewTenantGuard creates a new TenantGuard
func NewTenantGuard(cfg TenantGuardConfig) driving.TenantGuard {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &tenantGuard{
		tenants: cfg.Tenants,
		keys:    cfg.APIKeys,
		auth:    cfg.Auth,
		logger:  logger,
	}
}

// Resolve scopes an authenticated principal to its tenant
func (g *tenantGuard) Resolve(ctx context.Context, principal domain.Principal) (domain.TenantContext, error) {
	if principal.TenantID == "" || principal.UserID == "" {
		return domain.TenantContext{}, domain.ErrUnauthorized
	}
	for _, r := range principal.Roles {
		if !r.Valid() {
			return domain.TenantContext{}, fmt.Errorf("%w: unknown role %q", domain.ErrUnauthorized, r)
		}
	}

	v, err, _ := g.lookups.Do(principal.TenantID, func() (interface{}, error) {
		// Detached from the first caller so its cancellation does not fail the others.
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tenantLookupTimeout)
		defer cancel()
		return g.tenants.Get(lookupCtx, principal.TenantID)
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.TenantContext{}, domain.ErrUnauthorized
		}
		g.logger.Error("tenant lookup failed", "tenant_id", principal.TenantID, "error", err)
		return domain.TenantContext{}, fmt.Errorf("resolve tenant: %w", err)
	}

	tc, err := domain.NewTenantContext(v.(*domain.Tenant), principal.UserID, principal.Roles)
	if err != nil {
		if errors.Is(err, domain.ErrForbidden) {
			g.logger.Warn("inactive tenant rejected", "tenant_id", principal.TenantID)
		}
		return domain.TenantContext{}, err
	}
	return tc, nil
}

// AuthenticateToken verifies a bearer token and resolves its tenant
func (g *tenantGuard) AuthenticateToken(ctx context.Context, token string) (domain.TenantContext, error) {
	if token == "" {
		return domain.TenantContext{}, domain.ErrUnauthorized
	}
	claims, err := g.auth.ParseToken(token)
	if err != nil {
		return domain.TenantContext{}, err
	}
	return g.Resolve(ctx, claims.Principal())
}

// AuthenticateAPIKey verifies a "<id>.<secret>" key and resolves its tenant
func (g *tenantGuard) AuthenticateAPIKey(ctx context.Context, key string) (domain.TenantContext, error) {
	if g.keys == nil {
		return domain.TenantContext{}, domain.ErrUnauthorized
	}
	id, secret, ok := domain.SplitAPIKey(key)
	if !ok {
		return domain.TenantContext{}, domain.ErrUnauthorized
	}

	apiKey, err := g.keys.GetAPIKey(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.TenantContext{}, domain.ErrUnauthorized
		}
		return domain.TenantContext{}, fmt.Errorf("load api key: %w", err)
	}
	if apiKey.IsRevoked() || !g.auth.VerifySecret(secret, apiKey.SecretHash) {
		return domain.TenantContext{}, domain.ErrUnauthorized
	}

	tc, err := g.Resolve(ctx, apiKey.Principal())
	if err != nil {
		return domain.TenantContext{}, err
	}

	if err := g.keys.TouchAPIKey(ctx, id); err != nil {
		g.logger.Warn("failed to record api key use", "key_id", id, "error", err)
	}
	return tc, nil
}

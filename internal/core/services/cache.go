package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driving"
)

// Cache defaults
const (
	DefaultCacheTTL                  = time.Hour
	DefaultCacheTemperatureThreshold = 0.3
)

// Ensure ResponseCachePolicy implements CacheAdmin
var _ driving.CacheAdmin = (*ResponseCachePolicy)(nil)

// ResponseCachePolicy decides which queries may be served from the
// response cache and wraps the cache backend. Backend failures degrade
// to a miss.
type ResponseCachePolicy struct {
	cache                driven.ResponseCache
	ttl                  time.Duration
	temperatureThreshold float64
	logger               *slog.Logger
}

// ResponseCacheConfig holds configuration for the cache policy.
type ResponseCacheConfig struct {
	Cache                driven.ResponseCache // Optional: caching is disabled when nil
	TTL                  time.Duration        // Entry lifetime (default: 1h)
	TemperatureThreshold float64              // Only temperatures below this are cached (default: 0.3)
	Logger               *slog.Logger
}

// NewResponseCachePolicy creates a new cache policy
func NewResponseCachePolicy(cfg ResponseCacheConfig) *ResponseCachePolicy {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	threshold := cfg.TemperatureThreshold
	if threshold <= 0 {
		threshold = DefaultCacheTemperatureThreshold
	}
	return &ResponseCachePolicy{
		cache:                cfg.Cache,
		ttl:                  ttl,
		temperatureThreshold: threshold,
		logger:               logger,
	}
}

// Eligible reports whether q may be looked up in and stored to the cache.
// Streaming and high-temperature queries always bypass it.
func (p *ResponseCachePolicy) Eligible(q *domain.Query, noCache bool) bool {
	return p.cache != nil && !noCache && !q.Streaming && q.Params.Temperature < p.temperatureThreshold
}

// Key builds the cache key of q in the tenant's current epoch. The same
// key must be used for Lookup and the later Store, so an answer computed
// across an invalidation is written under the dead epoch. False means
// the epoch could not be read and the query bypasses the cache.
func (p *ResponseCachePolicy) Key(ctx context.Context, q *domain.Query) (domain.CacheKey, bool) {
	epoch, err := p.cache.Epoch(ctx, q.TenantID)
	if err != nil {
		p.logger.Warn("cache epoch lookup failed", "tenant_id", q.TenantID, "error", err)
		return domain.CacheKey{}, false
	}
	return domain.NewCacheKey(q, epoch), true
}

// Lookup returns the result cached under key, or false on miss
func (p *ResponseCachePolicy) Lookup(ctx context.Context, key domain.CacheKey) (*domain.QueryResult, bool) {
	result, err := p.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			p.logger.Warn("cache lookup failed", "tenant_id", key.TenantID, "error", err)
		}
		return nil, false
	}
	return result, true
}

// Store memoizes a completed result under key
func (p *ResponseCachePolicy) Store(ctx context.Context, key domain.CacheKey, result *domain.QueryResult) {
	if result == nil || result.Status != domain.QueryStatusCompleted {
		return
	}
	if err := p.cache.Set(ctx, key, result, p.ttl); err != nil {
		p.logger.Warn("cache store failed", "tenant_id", key.TenantID, "error", err)
	}
}

// InvalidateTenant drops every cached answer of the calling tenant.
// Requires the admin role.
func (p *ResponseCachePolicy) InvalidateTenant(ctx context.Context, tc domain.TenantContext) (int, error) {
	if !tc.Valid() {
		return 0, domain.ErrUnauthorized
	}
	if !tc.IsAdmin() {
		return 0, domain.ErrForbidden
	}
	if p.cache == nil {
		return 0, nil
	}
	n, err := p.cache.InvalidateTenant(ctx, tc.TenantID())
	if err != nil {
		return 0, err
	}
	p.logger.Info("response cache invalidated", "tenant_id", tc.TenantID(), "entries", n)
	return n, nil
}

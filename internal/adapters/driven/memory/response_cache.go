package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ResponseCache = (*ResponseCache)(nil)

type cacheShard struct {
	mu sync.RWMutex
	// tenant ID -> rendered key -> entry
	tenants map[string]map[string]*domain.CacheEntry
	// tenant ID -> current epoch
	epochs map[string]int64
}

// ResponseCache is a TTL cache sharded by tenant ID.
// Entries expire lazily on read and are swept by Run.
type ResponseCache struct {
	shards [shardCount]*cacheShard
	now    func() time.Time
	logger *slog.Logger
}

// NewResponseCache creates an empty in-memory ResponseCache
func NewResponseCache(logger *slog.Logger) *ResponseCache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &ResponseCache{now: time.Now, logger: logger}
	for i := range c.shards {
		c.shards[i] = &cacheShard{
			tenants: make(map[string]map[string]*domain.CacheEntry),
			epochs:  make(map[string]int64),
		}
	}
	return c
}

// WithClock replaces the time source (tests)
func (c *ResponseCache) WithClock(now func() time.Time) *ResponseCache {
	c.now = now
	return c
}

// Epoch returns the tenant's current cache epoch
func (c *ResponseCache) Epoch(ctx context.Context, tenantID string) (int64, error) {
	shard := c.shards[shardIndex(tenantID)]
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	return shard.epochs[tenantID], nil
}

// Get returns a live entry or domain.ErrNotFound
func (c *ResponseCache) Get(ctx context.Context, key domain.CacheKey) (*domain.QueryResult, error) {
	shard := c.shards[shardIndex(key.TenantID)]
	k := key.String()

	shard.mu.RLock()
	entry, ok := shard.tenants[key.TenantID][k]
	shard.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	if entry.Expired(c.now()) {
		shard.mu.Lock()
		if cur, ok := shard.tenants[key.TenantID][k]; ok && cur == entry {
			delete(shard.tenants[key.TenantID], k)
		}
		shard.mu.Unlock()
		return nil, domain.ErrNotFound
	}
	return entry.Result.Clone(), nil
}

// Set stores a copy of result for ttl
func (c *ResponseCache) Set(ctx context.Context, key domain.CacheKey, result *domain.QueryResult, ttl time.Duration) error {
	if ttl <= 0 || result == nil {
		return nil
	}
	now := c.now()
	entry := &domain.CacheEntry{
		Key:       key.String(),
		TenantID:  key.TenantID,
		Result:    result.Clone(),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	shard := c.shards[shardIndex(key.TenantID)]
	shard.mu.Lock()
	defer shard.mu.Unlock()
	// A write racing an invalidation is dropped
	if key.Epoch != shard.epochs[key.TenantID] {
		return nil
	}
	entries, ok := shard.tenants[key.TenantID]
	if !ok {
		entries = make(map[string]*domain.CacheEntry)
		shard.tenants[key.TenantID] = entries
	}
	entries[entry.Key] = entry
	return nil
}

// InvalidateTenant advances the tenant's epoch and drops its entries
func (c *ResponseCache) InvalidateTenant(ctx context.Context, tenantID string) (int, error) {
	shard := c.shards[shardIndex(tenantID)]
	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.epochs[tenantID]++
	n := len(shard.tenants[tenantID])
	delete(shard.tenants, tenantID)
	return n, nil
}

// Sweep removes expired entries and returns how many were dropped
func (c *ResponseCache) Sweep() int {
	now := c.now()
	removed := 0
	for _, shard := range c.shards {
		shard.mu.Lock()
		for tenantID, entries := range shard.tenants {
			for k, e := range entries {
				if e.Expired(now) {
					delete(entries, k)
					removed++
				}
			}
			if len(entries) == 0 {
				delete(shard.tenants, tenantID)
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// Run sweeps expired entries every interval until ctx is done
func (c *ResponseCache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("swept expired cache entries", "count", n)
			}
		}
	}
}

// Len returns the number of stored entries, expired or not
func (c *ResponseCache) Len() int {
	n := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		for _, entries := range shard.tenants {
			n += len(entries)
		}
		shard.mu.RUnlock()
	}
	return n
}

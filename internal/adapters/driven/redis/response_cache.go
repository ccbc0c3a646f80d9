package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ResponseCache = (*ResponseCache)(nil)

const (
	// Key prefixes for Redis
	cachePrefix       = "sercha-rag:cache:"
	cacheTenantPrefix = "sercha-rag:cache-index:"
	cacheEpochPrefix  = "sercha-rag:cache-epoch:"
)

var errStaleEpoch = errors.New("cache epoch advanced")

// ResponseCache implements driven.ResponseCache using Redis.
// Entries use Redis TTL for expiry; a per-tenant set indexes keys for
// invalidation and a per-tenant counter holds the cache epoch.
type ResponseCache struct {
	client *redis.Client
}

// NewResponseCache creates a new Redis-backed ResponseCache
func NewResponseCache(client *redis.Client) *ResponseCache {
	return &ResponseCache{client: client}
}

// Epoch returns the tenant's current cache epoch
func (c *ResponseCache) Epoch(ctx context.Context, tenantID string) (int64, error) {
	epoch, err := c.client.Get(ctx, cacheEpochPrefix+tenantID).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get cache epoch: %w", err)
	}
	return epoch, nil
}

// Get retrieves a cached result
func (c *ResponseCache) Get(ctx context.Context, key domain.CacheKey) (*domain.QueryResult, error) {
	data, err := c.client.Get(ctx, cachePrefix+key.String()).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}

	var entry domain.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	if entry.TenantID != key.TenantID || entry.Result == nil {
		return nil, domain.ErrNotFound
	}
	return entry.Result, nil
}

// Set stores a result with TTL
func (c *ResponseCache) Set(ctx context.Context, key domain.CacheKey, result *domain.QueryResult, ttl time.Duration) error {
	if ttl <= 0 || result == nil {
		return nil
	}
	now := time.Now()
	k := key.String()
	data, err := json.Marshal(&domain.CacheEntry{
		Key:       k,
		TenantID:  key.TenantID,
		Result:    result,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	// The epoch is watched so a write racing InvalidateTenant is dropped
	// instead of landing after the entries were deleted.
	epochKey := cacheEpochPrefix + key.TenantID
	indexKey := cacheTenantPrefix + key.TenantID
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, epochKey).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if current != key.Epoch {
			return errStaleEpoch
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, cachePrefix+k, data, ttl)
			pipe.SAdd(ctx, indexKey, k)
			pipe.Expire(ctx, indexKey, ttl)
			return nil
		})
		return err
	}, epochKey)
	if errors.Is(err, errStaleEpoch) || errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}
	return nil
}

// InvalidateTenant advances the tenant's epoch, then deletes every
// indexed entry. Only the members it read are removed from the index.
func (c *ResponseCache) InvalidateTenant(ctx context.Context, tenantID string) (int, error) {
	if err := c.client.Incr(ctx, cacheEpochPrefix+tenantID).Err(); err != nil {
		return 0, fmt.Errorf("failed to advance cache epoch: %w", err)
	}

	indexKey := cacheTenantPrefix + tenantID
	keys, err := c.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list tenant cache entries: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	full := make([]string, 0, len(keys))
	members := make([]interface{}, 0, len(keys))
	for _, k := range keys {
		full = append(full, cachePrefix+k)
		members = append(members, k)
	}

	deleted, err := c.client.Del(ctx, full...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to delete tenant cache entries: %w", err)
	}
	if err := c.client.SRem(ctx, indexKey, members...).Err(); err != nil {
		return int(deleted), fmt.Errorf("failed to prune tenant cache index: %w", err)
	}
	return int(deleted), nil
}

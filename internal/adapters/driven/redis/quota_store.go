package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.QuotaStore = (*QuotaStore)(nil)

const quotaPrefix = "sercha-rag:quota:"

// rollLua advances the counter hash to the window containing now.
// It mirrors domain.QuotaCounter.Roll.
const rollLua = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local current = now - (now % window)
local h = redis.call("HMGET", KEYS[1], "ws", "q", "t", "pq", "pt")
local ws = tonumber(h[1])
local q = tonumber(h[2]) or 0
local t = tonumber(h[3]) or 0
local pq = tonumber(h[4]) or 0
local pt = tonumber(h[5]) or 0
if ws == nil or ws > current then
	ws = current
elseif current - ws == window then
	pq = q
	pt = t
	q = 0
	t = 0
	ws = current
elseif current - ws > window then
	pq = 0
	pt = 0
	q = 0
	t = 0
	ws = current
end
local weight = 1 - (now - ws) / window
if weight < 0 then weight = 0 end
if weight > 1 then weight = 1 end
`

// admitScript checks and reserves quota in one atomic step.
// Returns {allowed, retry_after_ms, reason}.
var admitScript = redis.NewScript(rollLua + `
local maxq = tonumber(ARGV[3])
local maxt = tonumber(ARGV[4])
local est = tonumber(ARGV[5])
local allowed = 1
local reason = ""
if maxq > 0 and pq * weight + q + 1 > maxq then
	allowed = 0
	reason = "queries"
elseif maxt > 0 then
	local used = pt * weight + t
	if used >= maxt or used + est > maxt then
		allowed = 0
		reason = "tokens"
	end
end
if allowed == 1 then
	q = q + 1
	t = t + est
end
redis.call("HSET", KEYS[1], "ws", ws, "q", q, "t", t, "pq", pq, "pt", pt)
redis.call("PEXPIRE", KEYS[1], window * 2)
return {allowed, ws + window - now, reason}
`)

// reconcileScript applies a token delta. Returns the new token count.
var reconcileScript = redis.NewScript(rollLua + `
t = t + tonumber(ARGV[3])
if t < 0 then t = 0 end
redis.call("HSET", KEYS[1], "ws", ws, "q", q, "t", t, "pq", pq, "pt", pt)
redis.call("PEXPIRE", KEYS[1], window * 2)
return t
`)

// QuotaStore implements driven.QuotaStore with Lua scripts, so each
// admission is a single atomic operation on the tenant's hash and
// replicas share one counter.
type QuotaStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewQuotaStore creates a new Redis-backed QuotaStore
func NewQuotaStore(client *redis.Client) *QuotaStore {
	return &QuotaStore{client: client, now: time.Now}
}

// WithClock replaces the time source (tests)
func (s *QuotaStore) WithClock(now func() time.Time) *QuotaStore {
	s.now = now
	return s
}

func windowOf(limits domain.QuotaLimits) time.Duration {
	if limits.Window <= 0 {
		return domain.DefaultQuotaWindow
	}
	return limits.Window
}

// Admit checks and reserves quota for one query
func (s *QuotaStore) Admit(ctx context.Context, tenantID string, limits domain.QuotaLimits, estimatedTokens int64) (domain.QuotaDecision, error) {
	window := windowOf(limits)
	res, err := admitScript.Run(ctx, s.client, []string{quotaPrefix + tenantID},
		s.now().UnixMilli(), window.Milliseconds(), limits.MaxQueries, limits.MaxTokens, estimatedTokens,
	).Slice()
	if err != nil {
		return domain.QuotaDecision{}, fmt.Errorf("admit quota: %w", err)
	}
	if len(res) != 3 {
		return domain.QuotaDecision{}, fmt.Errorf("admit quota: unexpected reply %v", res)
	}

	allowed, _ := res[0].(int64)
	retryMs, _ := res[1].(int64)
	reason, _ := res[2].(string)
	if allowed == 1 {
		return domain.QuotaDecision{Allowed: true}, nil
	}
	return domain.QuotaDecision{
		Reason:     domain.QuotaReason(reason),
		RetryAfter: time.Duration(retryMs) * time.Millisecond,
	}, nil
}

// Reconcile applies a token delta to the tenant's counter
func (s *QuotaStore) Reconcile(ctx context.Context, tenantID string, limits domain.QuotaLimits, deltaTokens int64) error {
	window := windowOf(limits)
	err := reconcileScript.Run(ctx, s.client, []string{quotaPrefix + tenantID},
		s.now().UnixMilli(), window.Milliseconds(), deltaTokens,
	).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("reconcile quota: %w", err)
	}
	return nil
}

// Usage returns the tenant's counter rolled to now
func (s *QuotaStore) Usage(ctx context.Context, tenantID string, limits domain.QuotaLimits) (*domain.QuotaCounter, error) {
	vals, err := s.client.HMGet(ctx, quotaPrefix+tenantID, "ws", "q", "t", "pq", "pt").Result()
	if err != nil {
		return nil, fmt.Errorf("get quota usage: %w", err)
	}
	c := &domain.QuotaCounter{TenantID: tenantID, Window: windowOf(limits)}
	if ws := parseInt(vals[0]); ws > 0 {
		c.WindowStart = time.UnixMilli(ws).UTC()
	}
	c.Queries = parseInt(vals[1])
	c.Tokens = parseInt(vals[2])
	c.PrevQueries = parseInt(vals[3])
	c.PrevTokens = parseInt(vals[4])
	c.Roll(s.now())
	return c, nil
}

func parseInt(v interface{}) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return 0
		}
		return int64(f)
	}
	return n
}

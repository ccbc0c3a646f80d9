package memory

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.QuotaStore = (*QuotaStore)(nil)

type quotaShard struct {
	mu       sync.Mutex
	counters map[string]*domain.QuotaCounter
}

// QuotaStore keeps quota counters in process memory.
// Each admission is linearizable per tenant: it runs under the lock of
// the tenant's shard only.
type QuotaStore struct {
	shards [shardCount]*quotaShard
	now    func() time.Time
}

// NewQuotaStore creates an empty in-memory QuotaStore
func NewQuotaStore() *QuotaStore {
	s := &QuotaStore{now: time.Now}
	for i := range s.shards {
		s.shards[i] = &quotaShard{counters: make(map[string]*domain.QuotaCounter)}
	}
	return s
}

// WithClock replaces the time source (tests)
func (s *QuotaStore) WithClock(now func() time.Time) *QuotaStore {
	s.now = now
	return s
}

func (s *QuotaStore) counter(shard *quotaShard, tenantID string, window time.Duration) *domain.QuotaCounter {
	c, ok := shard.counters[tenantID]
	if !ok {
		c = &domain.QuotaCounter{TenantID: tenantID, Window: window}
		shard.counters[tenantID] = c
	}
	if window > 0 {
		c.Window = window
	}
	return c
}

// Admit checks and reserves quota for one query
func (s *QuotaStore) Admit(ctx context.Context, tenantID string, limits domain.QuotaLimits, estimatedTokens int64) (domain.QuotaDecision, error) {
	if err := ctx.Err(); err != nil {
		return domain.QuotaDecision{}, err
	}
	shard := s.shards[shardIndex(tenantID)]
	shard.mu.Lock()
	defer shard.mu.Unlock()
	return s.counter(shard, tenantID, limits.Window).Admit(s.now(), limits, estimatedTokens), nil
}

// Reconcile applies a token delta to the tenant's counter
func (s *QuotaStore) Reconcile(ctx context.Context, tenantID string, limits domain.QuotaLimits, deltaTokens int64) error {
	shard := s.shards[shardIndex(tenantID)]
	shard.mu.Lock()
	defer shard.mu.Unlock()
	s.counter(shard, tenantID, limits.Window).Reconcile(s.now(), deltaTokens)
	return nil
}

// Usage returns a snapshot of the tenant's counter
func (s *QuotaStore) Usage(ctx context.Context, tenantID string, limits domain.QuotaLimits) (*domain.QuotaCounter, error) {
	shard := s.shards[shardIndex(tenantID)]
	shard.mu.Lock()
	defer shard.mu.Unlock()
	c := s.counter(shard, tenantID, limits.Window)
	c.Roll(s.now())
	snapshot := *c
	return &snapshot, nil
}

package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// Ensure MockLedgerStore implements LedgerStore
var _ driven.LedgerStore = (*MockLedgerStore)(nil)

// MockLedgerStore is an in-memory append-only ledger
type MockLedgerStore struct {
	mu       sync.RWMutex
	entries  []*domain.LedgerEntry
	byID     map[string]*domain.LedgerEntry
	feedback map[string]*domain.Feedback
	failErr  error
}

// NewMockLedgerStore creates a new MockLedgerStore
func NewMockLedgerStore() *MockLedgerStore {
	return &MockLedgerStore{
		byID:     make(map[string]*domain.LedgerEntry),
		feedback: make(map[string]*domain.Feedback),
	}
}

func (m *MockLedgerStore) Append(ctx context.Context, query *domain.Query, result *domain.QueryResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	if _, exists := m.byID[query.ID]; exists {
		return domain.ErrInvalidInput
	}
	q := *query
	entry := &domain.LedgerEntry{Query: &q, Result: result.Clone()}
	m.entries = append(m.entries, entry)
	m.byID[query.ID] = entry
	return nil
}

func (m *MockLedgerStore) Get(ctx context.Context, tenantID, queryID string) (*domain.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byID[queryID]
	if !ok || e.Query.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	return m.withFeedback(e), nil
}

func (m *MockLedgerStore) History(ctx context.Context, tenantID string, filter domain.HistoryFilter) ([]*domain.LedgerEntry, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*domain.LedgerEntry
	for _, e := range m.entries {
		if e.Query.TenantID != tenantID {
			continue
		}
		if filter.UserID != "" && e.Query.UserID != filter.UserID {
			continue
		}
		if filter.SessionID != "" && e.Query.SessionID != filter.SessionID {
			continue
		}
		matched = append(matched, m.withFeedback(e))
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Query.CreatedAt.After(matched[j].Query.CreatedAt)
	})

	total := len(matched)
	if filter.Offset >= total {
		return []*domain.LedgerEntry{}, total, nil
	}
	end := total
	if filter.Limit > 0 && filter.Offset+filter.Limit < total {
		end = filter.Offset + filter.Limit
	}
	return matched[filter.Offset:end], total, nil
}

func (m *MockLedgerStore) AddFeedback(ctx context.Context, feedback *domain.Feedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[feedback.QueryID]
	if !ok || e.Query.TenantID != feedback.TenantID {
		return domain.ErrNotFound
	}
	f := *feedback
	m.feedback[feedback.QueryID] = &f
	return nil
}

func (m *MockLedgerStore) Analytics(ctx context.Context, tenantID string, since, today time.Time) (*domain.AnalyticsSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := &domain.AnalyticsSummary{
		RatingDistribution: make(map[int]int),
		ProviderBreakdown:  make(map[string]int),
	}
	var latency time.Duration
	var tokens int
	for _, e := range m.entries {
		if e.Query.TenantID != tenantID || e.Query.CreatedAt.Before(since) {
			continue
		}
		s.TotalQueries++
		if !e.Query.CreatedAt.Before(today) {
			s.QueriesToday++
		}
		switch e.Result.Status {
		case domain.QueryStatusCompleted:
			s.CompletedQueries++
		case domain.QueryStatusFailed:
			s.FailedQueries++
		case domain.QueryStatusPartial:
			s.PartialQueries++
		}
		if e.Result.CacheHit {
			s.CacheHits++
		}
		latency += e.Result.Latency
		tokens += e.Result.Usage.TotalTokens
		s.TotalCost += e.Result.EstimatedCost
		s.ProviderBreakdown[e.Query.Params.Provider]++
		if f, ok := m.feedback[e.Query.ID]; ok {
			s.RatingDistribution[f.Rating]++
		}
	}
	if s.TotalQueries > 0 {
		s.AvgLatencyMs = float64(latency.Milliseconds()) / float64(s.TotalQueries)
		s.AvgTotalTokens = float64(tokens) / float64(s.TotalQueries)
	}
	return s, nil
}

func (m *MockLedgerStore) withFeedback(e *domain.LedgerEntry) *domain.LedgerEntry {
	c := &domain.LedgerEntry{Query: e.Query, Result: e.Result}
	if f, ok := m.feedback[e.Query.ID]; ok {
		fc := *f
		c.Feedback = &fc
	}
	return c
}

// Helper methods for testing

// SetError makes every Append fail with err until reset with nil
func (m *MockLedgerStore) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Entries returns every appended entry in append order
func (m *MockLedgerStore) Entries() []*domain.LedgerEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*domain.LedgerEntry(nil), m.entries...)
}

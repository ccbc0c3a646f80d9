package mocks

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// Ensure MockVectorStore implements VectorStore
var _ driven.VectorStore = (*MockVectorStore)(nil)

type storedChunk struct {
	namespace string
	chunk     *domain.DocumentChunk
}

// MockVectorStore is an in-memory VectorStore that evaluates the
// isolation predicate the same way real stores do.
type MockVectorStore struct {
	mu      sync.RWMutex
	chunks  map[string]*storedChunk
	scores  map[string]float64
	err     error
	calls   atomic.Int64
	filters []domain.VectorFilter
}

// NewMockVectorStore creates a new MockVectorStore
func NewMockVectorStore() *MockVectorStore {
	return &MockVectorStore{
		chunks: make(map[string]*storedChunk),
		scores: make(map[string]float64),
	}
}

func (m *MockVectorStore) Search(ctx context.Context, filter domain.VectorFilter, vector []float32, topK int) ([]*domain.ScoredChunk, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.filters = append(m.filters, filter)
	err := m.err
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if !filter.Valid() {
		return nil, domain.ErrMissingTenant
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []*domain.ScoredChunk
	for id, sc := range m.chunks {
		if !filter.Matches(sc.namespace, sc.chunk) {
			continue
		}
		score, ok := m.scores[id]
		if !ok {
			score = cosine(vector, sc.chunk.Embedding)
		}
		c := *sc.chunk
		results = append(results, &domain.ScoredChunk{Chunk: &c, Score: score})
	}
	domain.SortScored(results)
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (m *MockVectorStore) Upsert(ctx context.Context, tc domain.TenantContext, chunks []*domain.DocumentChunk) error {
	if !tc.Valid() {
		return domain.ErrMissingTenant
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, chunk := range chunks {
		c := *chunk
		c.TenantID = tc.TenantID()
		m.chunks[c.ID] = &storedChunk{namespace: tc.Namespace(), chunk: &c}
	}
	return nil
}

func (m *MockVectorStore) DeleteDocument(ctx context.Context, tc domain.TenantContext, documentID string) error {
	if !tc.Valid() {
		return domain.ErrMissingTenant
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sc := range m.chunks {
		if sc.namespace == tc.Namespace() && sc.chunk.DocumentID == documentID {
			delete(m.chunks, id)
		}
	}
	return nil
}

func (m *MockVectorStore) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

func (m *MockVectorStore) Close() error {
	return nil
}

// Helper methods for testing

// SetError makes every Search fail with err until reset with nil
func (m *MockVectorStore) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetScore pins the similarity returned for a chunk
func (m *MockVectorStore) SetScore(chunkID string, score float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[chunkID] = score
}

// PutRaw stores a chunk under an arbitrary namespace, bypassing Upsert
func (m *MockVectorStore) PutRaw(namespace string, chunk *domain.DocumentChunk) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *chunk
	m.chunks[c.ID] = &storedChunk{namespace: namespace, chunk: &c}
}

// Calls returns the number of Search calls
func (m *MockVectorStore) Calls() int {
	return int(m.calls.Load())
}

// Filters returns every filter Search received
func (m *MockVectorStore) Filters() []domain.VectorFilter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.VectorFilter(nil), m.filters...)
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

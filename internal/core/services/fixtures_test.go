package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/custodia-labs/sercha-rag/internal/adapters/driven/memory"
	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven/mocks"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-rag/internal/runtime"
)

func ptr[T any](v T) *T { return &v }

func testTenant(id string) *domain.Tenant {
	return &domain.Tenant{
		ID:              id,
		Name:            "Tenant " + id,
		Namespace:       "ns-" + id,
		Active:          true,
		Quota:           domain.DefaultQuotaConfig(),
		DefaultProvider: "mock",
	}
}

// newTenantContext builds a scope for tenant id, user "user-<id>"
func newTenantContext(t *testing.T, tenant *domain.Tenant, roles ...domain.Role) domain.TenantContext {
	t.Helper()
	if len(roles) == 0 {
		roles = []domain.Role{domain.RoleMember}
	}
	tc, err := domain.NewTenantContext(tenant, "user-"+tenant.ID, roles)
	if err != nil {
		t.Fatalf("failed to build tenant context: %v", err)
	}
	return tc
}

func withUser(t *testing.T, tenant *domain.Tenant, userID string, roles ...domain.Role) domain.TenantContext {
	t.Helper()
	tc, err := domain.NewTenantContext(tenant, userID, roles)
	if err != nil {
		t.Fatalf("failed to build tenant context: %v", err)
	}
	return tc
}

type engineFixture struct {
	engine   driving.QueryService
	services *runtime.Services
	embed    *mocks.MockEmbeddingService
	store    *mocks.MockVectorStore
	provider *mocks.MockGenerationProvider
	ledger   *mocks.MockLedgerStore
	quota    *memory.QuotaStore
	cache    *memory.ResponseCache
	policy   *ResponseCachePolicy
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	return buildEngineFixture()
}

func buildEngineFixture() *engineFixture {
	f := &engineFixture{
		services: runtime.NewServices(),
		embed:    mocks.NewMockEmbeddingService(),
		store:    mocks.NewMockVectorStore(),
		provider: mocks.NewMockGenerationProvider("mock", "Paris is the capital of France."),
		ledger:   mocks.NewMockLedgerStore(),
		quota:    memory.NewQuotaStore(),
		cache:    memory.NewResponseCache(nil),
	}
	f.policy = NewResponseCachePolicy(ResponseCacheConfig{Cache: f.cache})
	f.services.SetEmbeddingService(f.embed)
	f.services.SetProvider(f.provider)

	f.engine = NewQueryEngine(QueryEngineConfig{
		Services:    f.services,
		VectorStore: f.store,
		Quota:       NewQuotaController(QuotaControllerConfig{Store: f.quota}),
		Cache:       f.policy,
		Ledger:      f.ledger,
	})
	return f
}

// seed stores chunks for tc with pinned scores
func (f *engineFixture) seed(t *testing.T, tc domain.TenantContext, scores ...float64) []*domain.DocumentChunk {
	t.Helper()
	chunks := make([]*domain.DocumentChunk, len(scores))
	for i, score := range scores {
		id := fmt.Sprintf("%s-chunk-%d", tc.TenantID(), i)
		chunks[i] = &domain.DocumentChunk{
			ID:         id,
			DocumentID: fmt.Sprintf("%s-doc-%d", tc.TenantID(), i),
			Text:       fmt.Sprintf("fragment %d of %s", i, tc.TenantID()),
			Source:     fmt.Sprintf("file-%d.pdf", i),
			ChunkIndex: 0,
		}
		f.store.SetScore(id, score)
	}
	if err := f.store.Upsert(context.Background(), tc, chunks); err != nil {
		t.Fatalf("failed to seed chunks: %v", err)
	}
	return chunks
}

// drain reads a stream to its terminal frame
func drain(t *testing.T, s *domain.AnswerStream) (string, domain.StreamEvent) {
	t.Helper()
	var text string
	var last domain.StreamEvent
	for ev := range s.Events() {
		switch ev.Type {
		case domain.StreamEventDelta:
			text += ev.Text
		default:
			last = ev
		}
	}
	<-s.Done()
	return text, last
}

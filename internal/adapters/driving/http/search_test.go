package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/custodia-labs/sercha-rag/internal/adapters/driven/memory"
	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven/mocks"
	"github.com/custodia-labs/sercha-rag/internal/core/services"
	"github.com/custodia-labs/sercha-rag/internal/runtime"
)

func TestHandleSearch_Success(t *testing.T) {
	var gotTenant string
	var gotReq domain.SearchRequest
	queries := &mockQueryService{
		searchFn: func(ctx context.Context, tc domain.TenantContext, req domain.SearchRequest) (*domain.SearchResult, error) {
			gotTenant, gotReq = tc.TenantID(), req
			return &domain.SearchResult{
				Query: req.Text,
				Hits: []domain.SearchHit{
					{ChunkID: "c1", DocumentID: "d1", Score: 0.91, Text: "Refunds take 14 days.", Source: "faq.pdf", Page: 2, ChunkIndex: 4},
				},
				Latency: 1500 * time.Microsecond,
			}, nil
		},
	}
	s := newTestServer(t, queries, nil, nil)

	rr := doRequest(s, "POST", "/api/v1/search", "member-token", map[string]any{
		"query":           "refund policy",
		"limit":           5,
		"score_threshold": 0.5,
		"filters":         map[string]any{"document_ids": []string{"d1"}},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotTenant != "tenant-a" {
		t.Errorf("expected tenant from the principal, got %q", gotTenant)
	}
	if gotReq.Limit != 5 || gotReq.Threshold() != 0.5 || len(gotReq.Filters.DocumentIDs) != 1 {
		t.Errorf("request not decoded: %+v", gotReq)
	}

	var resp SearchResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TotalFound != 1 || resp.Results[0].ChunkID != "c1" || resp.Results[0].Page != 2 || resp.Results[0].ChunkIndex != 4 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.SearchTimeMs != 1.5 {
		t.Errorf("expected 1.5ms, got %v", resp.SearchTimeMs)
	}
}

func TestHandleSearch_Errors(t *testing.T) {
	queries := &mockQueryService{
		searchFn: func(ctx context.Context, tc domain.TenantContext, req domain.SearchRequest) (*domain.SearchResult, error) {
			return nil, domain.RateLimitedError("queries", time.Hour)
		},
	}
	s := newTestServer(t, queries, nil, nil)

	if rr := doRequest(s, "POST", "/api/v1/search", "", map[string]any{"query": "x"}); rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without credentials, got %d", rr.Code)
	}

	rr := doRequest(s, "POST", "/api/v1/search", "member-token", map[string]any{"query": "x"})
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if resp := decodeError(t, rr); resp.Kind != string(domain.KindRateLimited) {
		t.Errorf("expected rate_limited kind, got %q", resp.Kind)
	}
}

// newSearchServer serves a real engine over store
func newSearchServer(t *testing.T, store *mocks.MockVectorStore) (*Server, *memory.QuotaStore) {
	t.Helper()
	svcs := runtime.NewServices()
	svcs.SetEmbeddingService(mocks.NewMockEmbeddingService())
	provider := mocks.NewMockGenerationProvider("mock", "unused")
	svcs.SetProvider(provider)
	quota := memory.NewQuotaStore()
	engine := services.NewQueryEngine(services.QueryEngineConfig{
		Services:    svcs,
		VectorStore: store,
		Quota:       services.NewQuotaController(services.QuotaControllerConfig{Store: quota}),
		Ledger:      mocks.NewMockLedgerStore(),
	})
	return NewServer(DefaultConfig(), testGuard(t), engine, &mockCacheAdmin{}, nil, nil, nil), quota
}

func TestSearch_NeverCrossesTenantBoundary(t *testing.T) {
	store := mocks.NewMockVectorStore()
	a := testTenantContext(t, "tenant-a", "bob")
	b := testTenantContext(t, "tenant-b", "eve")

	// B owns documents whose ids A will try to name in its filters
	_ = store.Upsert(context.Background(), b, []*domain.DocumentChunk{
		{ID: "b1", DocumentID: "doc-1", Text: "secret", Tags: []string{"finance"}},
		{ID: "b2", DocumentID: "doc-2", Text: "secret", Tags: []string{"finance"}},
	})
	_ = store.Upsert(context.Background(), a, []*domain.DocumentChunk{
		{ID: "a1", DocumentID: "doc-9", Text: "public", Tags: []string{"finance"}},
	})
	for _, id := range []string{"a1", "b1", "b2"} {
		store.SetScore(id, 0.95)
	}
	s, _ := newSearchServer(t, store)

	filters := []map[string]any{
		{},
		{"document_ids": []string{"doc-1", "doc-2"}},
		{"tags": []string{"finance"}},
		{"document_ids": []string{"doc-1"}, "tags": []string{"finance"}},
	}
	for _, f := range filters {
		rr := doRequest(s, "POST", "/api/v1/search", "member-token", map[string]any{
			"query": "secret", "score_threshold": 0, "filters": f,
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("filters %v: expected 200, got %d: %s", f, rr.Code, rr.Body.String())
		}
		var resp SearchResponse
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		for _, hit := range resp.Results {
			if hit.ChunkID != "a1" {
				t.Fatalf("filters %v leaked chunk %s", f, hit.ChunkID)
			}
		}
	}

	for _, vf := range store.Filters() {
		if vf.Namespace() != "ns-tenant-a" {
			t.Errorf("expected every search scoped to ns-tenant-a, got %q", vf.Namespace())
		}
	}
}

func TestSearch_ForeignChunkFailsClosed(t *testing.T) {
	store := mocks.NewMockVectorStore()
	// A chunk of tenant-b sits in tenant-a's namespace
	store.PutRaw("ns-tenant-a", &domain.DocumentChunk{ID: "forged", TenantID: "tenant-b", DocumentID: "d", Text: "secret"})
	store.SetScore("forged", 0.99)
	s, _ := newSearchServer(t, store)

	rr := doRequest(s, "POST", "/api/v1/search", "member-token", map[string]any{"query": "secret"})
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", rr.Code, rr.Body.String())
	}
	if body := rr.Body.String(); strings.Contains(body, "secret") {
		t.Errorf("foreign chunk text leaked: %s", body)
	}
}

func TestSearch_CountsAgainstQuota(t *testing.T) {
	store := mocks.NewMockVectorStore()
	s, quota := newSearchServer(t, store)

	rr := doRequest(s, "POST", "/api/v1/search", "member-token", map[string]any{"query": "anything"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	tc := testTenantContext(t, "tenant-a", "bob")
	usage, err := quota.Usage(context.Background(), "tenant-a", domain.LimitsFor(tc.Quota(), domain.DefaultQuotaWindow))
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if usage.Queries != 1 {
		t.Errorf("expected one admitted query, got %d", usage.Queries)
	}
}

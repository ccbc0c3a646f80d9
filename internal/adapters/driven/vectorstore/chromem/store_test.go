package chromem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

func tenantContext(t *testing.T, id string) domain.TenantContext {
	t.Helper()
	tc, err := domain.NewTenantContext(&domain.Tenant{ID: id, Namespace: "ns-" + id, Active: true}, "user", []domain.Role{domain.RoleMember})
	require.NoError(t, err)
	return tc
}

func chunk(id, doc string, vec []float32, tags ...string) *domain.DocumentChunk {
	return &domain.DocumentChunk{
		ID:         id,
		DocumentID: doc,
		Text:       "text of " + id,
		Source:     doc + ".pdf",
		Page:       1,
		ChunkIndex: 0,
		Tags:       tags,
		Embedding:  vec,
	}
}

func search(t *testing.T, s *Store, tc domain.TenantContext, f domain.RetrievalFilters, k int) []*domain.ScoredChunk {
	t.Helper()
	vf, err := domain.NewVectorFilter(tc, f)
	require.NoError(t, err)
	res, err := s.Search(context.Background(), vf, []float32{1, 0, 0}, k)
	require.NoError(t, err)
	return res
}

func ids(res []*domain.ScoredChunk) []string {
	out := make([]string, len(res))
	for i, r := range res {
		out[i] = r.Chunk.ID
	}
	return out
}

func newSeededStore(t *testing.T) (*Store, domain.TenantContext, domain.TenantContext) {
	t.Helper()
	s, err := New(DefaultConfig())
	require.NoError(t, err)

	acme := tenantContext(t, "acme")
	globex := tenantContext(t, "globex")
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, acme, []*domain.DocumentChunk{
		chunk("a1", "d1", []float32{1, 0, 0}, "hr", "policy"),
		chunk("a2", "d2", []float32{0.9, 0.1, 0}, "hr"),
		chunk("a3", "d3", []float32{0.5, 0.5, 0}),
	}))
	require.NoError(t, s.Upsert(ctx, globex, []*domain.DocumentChunk{
		chunk("g1", "d1", []float32{1, 0, 0}, "hr", "policy"),
	}))
	return s, acme, globex
}

func TestStore_SearchStaysInNamespace(t *testing.T) {
	s, acme, globex := newSeededStore(t)

	res := search(t, s, acme, domain.RetrievalFilters{}, 10)
	assert.Equal(t, []string{"a1", "a2", "a3"}, ids(res))
	for _, r := range res {
		assert.Equal(t, "acme", r.Chunk.TenantID)
	}

	res = search(t, s, globex, domain.RetrievalFilters{}, 10)
	assert.Equal(t, []string{"g1"}, ids(res))
	assert.Equal(t, "globex", res[0].Chunk.TenantID)
}

func TestStore_DocumentIDsAnyOf(t *testing.T) {
	s, acme, _ := newSeededStore(t)

	res := search(t, s, acme, domain.RetrievalFilters{DocumentIDs: []string{"d3", "d1"}}, 10)
	assert.Equal(t, []string{"a1", "a3"}, ids(res))

	res = search(t, s, acme, domain.RetrievalFilters{DocumentIDs: []string{"d3", "d1"}}, 1)
	assert.Equal(t, []string{"a1"}, ids(res))
}

func TestStore_TagsAllOf(t *testing.T) {
	s, acme, _ := newSeededStore(t)

	res := search(t, s, acme, domain.RetrievalFilters{Tags: []string{"hr"}}, 10)
	assert.Equal(t, []string{"a1", "a2"}, ids(res))

	res = search(t, s, acme, domain.RetrievalFilters{Tags: []string{"hr", "policy"}}, 10)
	assert.Equal(t, []string{"a1"}, ids(res))
	assert.Equal(t, []string{"hr", "policy"}, res[0].Chunk.Tags)
}

func TestStore_PayloadRoundTrip(t *testing.T) {
	s, acme, _ := newSeededStore(t)

	res := search(t, s, acme, domain.RetrievalFilters{DocumentIDs: []string{"d1"}}, 1)
	require.Len(t, res, 1)
	c := res[0].Chunk
	assert.Equal(t, "d1", c.DocumentID)
	assert.Equal(t, "d1.pdf", c.Source)
	assert.Equal(t, "text of a1", c.Text)
	assert.Equal(t, 1, c.Page)
	assert.InDelta(t, 1.0, res[0].Score, 1e-5)
}

func TestStore_DeleteDocument(t *testing.T) {
	s, acme, globex := newSeededStore(t)
	ctx := context.Background()

	require.NoError(t, s.DeleteDocument(ctx, acme, "d1"))

	assert.Equal(t, []string{"a2", "a3"}, ids(search(t, s, acme, domain.RetrievalFilters{}, 10)))
	assert.Equal(t, []string{"g1"}, ids(search(t, s, globex, domain.RetrievalFilters{}, 10)), "same document id in another tenant survives")
}

func TestStore_RequiresTenant(t *testing.T) {
	s, err := New(DefaultConfig())
	require.NoError(t, err)

	_, err = s.Search(context.Background(), domain.VectorFilter{}, []float32{1, 0, 0}, 5)
	assert.ErrorIs(t, err, domain.ErrMissingTenant)
	assert.ErrorIs(t, s.Upsert(context.Background(), domain.TenantContext{}, nil), domain.ErrMissingTenant)
}

func TestStore_EmptyCollection(t *testing.T) {
	s, err := New(DefaultConfig())
	require.NoError(t, err)

	res := search(t, s, tenantContext(t, "acme"), domain.RetrievalFilters{}, 5)
	assert.Empty(t, res)
}

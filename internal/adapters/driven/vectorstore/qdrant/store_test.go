package qdrant

import (
	"errors"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

func tenantContext(t *testing.T, id string) domain.TenantContext {
	t.Helper()
	tc, err := domain.NewTenantContext(&domain.Tenant{ID: id, Namespace: "ns-" + id, Active: true}, "user", []domain.Role{domain.RoleMember})
	require.NoError(t, err)
	return tc
}

func fieldKeys(f *qdrant.Filter) map[string][]*qdrant.Match {
	out := map[string][]*qdrant.Match{}
	for _, c := range f.GetMust() {
		fc := c.GetField()
		out[fc.GetKey()] = append(out[fc.GetKey()], fc.GetMatch())
	}
	return out
}

func TestBuildFilter_NamespaceAlwaysPresent(t *testing.T) {
	vf, err := domain.NewVectorFilter(tenantContext(t, "acme"), domain.RetrievalFilters{})
	require.NoError(t, err)

	f, err := buildFilter(vf)
	require.NoError(t, err)

	keys := fieldKeys(f)
	require.Len(t, f.GetMust(), 2)
	assert.Equal(t, "ns-acme", keys[domain.PayloadNamespace][0].GetKeyword())
	assert.Equal(t, "acme", keys[domain.PayloadTenantID][0].GetKeyword())
}

func TestBuildFilter_CallerFiltersNarrow(t *testing.T) {
	vf, err := domain.NewVectorFilter(tenantContext(t, "acme"), domain.RetrievalFilters{
		DocumentIDs: []string{"doc-2", "doc-1"},
		Tags:        []string{"hr", "policy"},
	})
	require.NoError(t, err)

	f, err := buildFilter(vf)
	require.NoError(t, err)

	keys := fieldKeys(f)
	assert.Len(t, f.GetMust(), 5)
	assert.Equal(t, []string{"doc-1", "doc-2"}, keys[domain.PayloadDocumentID][0].GetKeywords().GetStrings())
	require.Len(t, keys[domain.PayloadTags], 2)
	assert.Equal(t, "hr", keys[domain.PayloadTags][0].GetKeyword())
	assert.Equal(t, "policy", keys[domain.PayloadTags][1].GetKeyword())
	assert.Empty(t, f.GetShould())
}

func TestBuildFilter_RequiresTenant(t *testing.T) {
	_, err := buildFilter(domain.VectorFilter{})
	assert.ErrorIs(t, err, domain.ErrMissingTenant)
}

func TestPayloadRoundTrip(t *testing.T) {
	tc := tenantContext(t, "acme")
	chunk := &domain.DocumentChunk{
		ID:         "c1",
		TenantID:   "ignored",
		DocumentID: "d1",
		Text:       "Paris is the capital of France.",
		Source:     "geo.pdf",
		Page:       3,
		ChunkIndex: 7,
		Tags:       []string{"geo"},
	}

	payload := chunkPayload(tc, chunk)
	assert.Equal(t, "ns-acme", payload[domain.PayloadNamespace].GetStringValue())

	got := chunkFromPayload(payload)
	assert.Equal(t, "acme", got.TenantID, "owner comes from the tenant context, not the chunk")
	assert.Equal(t, "c1", got.ID)
	assert.Equal(t, "d1", got.DocumentID)
	assert.Equal(t, chunk.Text, got.Text)
	assert.Equal(t, "geo.pdf", got.Source)
	assert.Equal(t, 3, got.Page)
	assert.Equal(t, 7, got.ChunkIndex)
	assert.Equal(t, []string{"geo"}, got.Tags)
}

func TestChunkFromPayload_MissingTenant(t *testing.T) {
	got := chunkFromPayload(map[string]*qdrant.Value{domain.PayloadChunkID: stringValue("c1")})
	assert.Empty(t, got.TenantID)
}

func TestPointID(t *testing.T) {
	assert.Equal(t, pointID("ns-a", "c1"), pointID("ns-a", "c1"))
	assert.NotEqual(t, pointID("ns-a", "c1"), pointID("ns-b", "c1"))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(status.Error(grpccodes.Unavailable, "down")))
	assert.True(t, isTransient(status.Error(grpccodes.ResourceExhausted, "busy")))
	assert.False(t, isTransient(status.Error(grpccodes.InvalidArgument, "bad")))
	assert.False(t, isTransient(errors.New("plain")))
}

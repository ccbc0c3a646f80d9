package domain

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// DocumentChunk is a span of a tenant document with its embedding.
// Written by the ingestion pipeline, immutable afterwards.
type DocumentChunk struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	DocumentID string    `json:"document_id"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"-"`
	Source     string    `json:"source"`
	Page       int       `json:"page"`
	ChunkIndex int       `json:"chunk_index"`
	Tags       []string  `json:"tags,omitempty"`
}

// ScoredChunk is a retrieval candidate
type ScoredChunk struct {
	Chunk *DocumentChunk `json:"chunk"`
	Score float64        `json:"score"`
}

// RetrievalFilters are the caller-supplied narrowing filters.
// DocumentIDs match any-of; Tags match all-of.
type RetrievalFilters struct {
	DocumentIDs []string `json:"document_ids,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Filter list limits. Some stores run one search per document id.
const (
	MaxFilterDocumentIDs = 100
	MaxFilterTags        = 50
)

// Validate caps the filter list lengths
func (f RetrievalFilters) Validate() error {
	if len(f.DocumentIDs) > MaxFilterDocumentIDs {
		return fmt.Errorf("%w: filters.document_ids accepts at most %d ids", ErrInvalidInput, MaxFilterDocumentIDs)
	}
	if len(f.Tags) > MaxFilterTags {
		return fmt.Errorf("%w: filters.tags accepts at most %d tags", ErrInvalidInput, MaxFilterTags)
	}
	return nil
}

// IsEmpty returns true when no filter is set
func (f RetrievalFilters) IsEmpty() bool {
	return len(f.DocumentIDs) == 0 && len(f.Tags) == 0
}

// Normalized returns a copy with trimmed, de-duplicated, sorted values.
func (f RetrievalFilters) Normalized() RetrievalFilters {
	return RetrievalFilters{
		DocumentIDs: normalizeSet(f.DocumentIDs),
		Tags:        normalizeSet(f.Tags),
	}
}

func normalizeSet(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	out = slices.Compact(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

// Payload keys shared by every vector store adapter
const (
	PayloadNamespace  = "namespace"
	PayloadTenantID   = "tenant_id"
	PayloadDocumentID = "document_id"
	PayloadChunkID    = "chunk_id"
	PayloadText       = "text"
	PayloadSource     = "source"
	PayloadPage       = "page"
	PayloadChunkIndex = "chunk_index"
	PayloadTags       = "tags"
)

// VectorFilter is the isolation predicate handed to vector stores:
// namespace equality AND the caller's narrowing filters.
// It can only be built from a TenantContext, so a store call
// without a tenant boundary does not type-check.
type VectorFilter struct {
	namespace   string
	tenantID    string
	documentIDs []string
	tags        []string
}

// NewVectorFilter builds the isolation predicate for tc.
// Caller filters only ever narrow the namespace-scoped result set.
func NewVectorFilter(tc TenantContext, filters RetrievalFilters) (VectorFilter, error) {
	if !tc.Valid() {
		return VectorFilter{}, ErrMissingTenant
	}
	f := filters.Normalized()
	return VectorFilter{
		namespace:   tc.Namespace(),
		tenantID:    tc.TenantID(),
		documentIDs: f.DocumentIDs,
		tags:        f.Tags,
	}, nil
}

// Namespace is the mandatory equality term
func (f VectorFilter) Namespace() string { return f.namespace }

// TenantID is the owner expected on every returned chunk
func (f VectorFilter) TenantID() string { return f.tenantID }

// DocumentIDs is the optional any-of term
func (f VectorFilter) DocumentIDs() []string { return slices.Clone(f.documentIDs) }

// Tags is the optional all-of term
func (f VectorFilter) Tags() []string { return slices.Clone(f.tags) }

// Valid reports whether the predicate carries a tenant boundary
func (f VectorFilter) Valid() bool { return f.namespace != "" && f.tenantID != "" }

// Matches evaluates the predicate against a chunk's stored attributes.
// In-memory stores use it as their only filter.
func (f VectorFilter) Matches(namespace string, chunk *DocumentChunk) bool {
	if !f.Valid() || chunk == nil || namespace != f.namespace {
		return false
	}
	if len(f.documentIDs) > 0 && !slices.Contains(f.documentIDs, chunk.DocumentID) {
		return false
	}
	for _, tag := range f.tags {
		if !slices.Contains(chunk.Tags, tag) {
			return false
		}
	}
	return true
}

// SortScored orders candidates by descending score, ties by ascending chunk id.
func SortScored(chunks []*ScoredChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		return chunks[i].Chunk.ID < chunks[j].Chunk.ID
	})
}

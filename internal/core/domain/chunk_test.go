package domain

import (
	"errors"
	"testing"
)

func TestRetrievalFiltersNormalized(t *testing.T) {
	f := RetrievalFilters{DocumentIDs: []string{" d2", "d1", "d2", ""}, Tags: []string{"  "}}.Normalized()
	if len(f.DocumentIDs) != 2 || f.DocumentIDs[0] != "d1" || f.DocumentIDs[1] != "d2" {
		t.Errorf("DocumentIDs = %v", f.DocumentIDs)
	}
	if f.Tags != nil {
		t.Errorf("blank tags should normalize to nil, got %v", f.Tags)
	}
	if !(RetrievalFilters{}).IsEmpty() {
		t.Error("zero filters are empty")
	}
}

func TestNewVectorFilter(t *testing.T) {
	if _, err := NewVectorFilter(TenantContext{}, RetrievalFilters{}); !errors.Is(err, ErrMissingTenant) {
		t.Errorf("expected ErrMissingTenant, got %v", err)
	}

	tc, _ := NewTenantContext(&Tenant{ID: "t1", Namespace: "ns1", Active: true}, "u", nil)
	f, err := NewVectorFilter(tc, RetrievalFilters{DocumentIDs: []string{"d1"}})
	if err != nil {
		t.Fatal(err)
	}
	if f.Namespace() != "ns1" || f.TenantID() != "t1" || !f.Valid() {
		t.Errorf("unexpected filter: %+v", f)
	}
	f.DocumentIDs()[0] = "mutated"
	if f.DocumentIDs()[0] != "d1" {
		t.Error("filter terms must be immutable")
	}
}

func TestVectorFilterMatches(t *testing.T) {
	tc, _ := NewTenantContext(&Tenant{ID: "t1", Namespace: "ns1", Active: true}, "u", nil)
	chunk := &DocumentChunk{ID: "c1", DocumentID: "d1", Tags: []string{"faq", "billing"}}

	tests := []struct {
		name      string
		filters   RetrievalFilters
		namespace string
		want      bool
	}{
		{"namespace only", RetrievalFilters{}, "ns1", true},
		{"foreign namespace", RetrievalFilters{}, "ns2", false},
		{"document any-of", RetrievalFilters{DocumentIDs: []string{"d9", "d1"}}, "ns1", true},
		{"document miss", RetrievalFilters{DocumentIDs: []string{"d9"}}, "ns1", false},
		{"tags all-of", RetrievalFilters{Tags: []string{"faq", "billing"}}, "ns1", true},
		{"tags partial", RetrievalFilters{Tags: []string{"faq", "legal"}}, "ns1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, _ := NewVectorFilter(tc, tt.filters)
			if got := f.Matches(tt.namespace, chunk); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}

	var zero VectorFilter
	if zero.Matches("", chunk) {
		t.Error("a filter without a tenant boundary matches nothing")
	}
}

func TestSortScored(t *testing.T) {
	chunks := []*ScoredChunk{
		{Chunk: &DocumentChunk{ID: "b"}, Score: 0.8},
		{Chunk: &DocumentChunk{ID: "c"}, Score: 0.9},
		{Chunk: &DocumentChunk{ID: "a"}, Score: 0.8},
	}
	SortScored(chunks)
	got := chunks[0].Chunk.ID + chunks[1].Chunk.ID + chunks[2].Chunk.ID
	if got != "cab" {
		t.Errorf("order = %s, want cab", got)
	}
}

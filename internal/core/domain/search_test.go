package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestSearchRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     SearchRequest
		wantErr bool
	}{
		{"valid", SearchRequest{Text: "refund policy"}, false},
		{"empty", SearchRequest{Text: " "}, true},
		{"too long", SearchRequest{Text: strings.Repeat("a", MaxQueryLength+1)}, true},
		{"limit", SearchRequest{Text: "q", Limit: MaxSearchLimit + 1}, true},
		{"negative limit", SearchRequest{Text: "q", Limit: -1}, true},
		{"threshold", SearchRequest{Text: "q", ScoreThreshold: ptr(-0.1)}, true},
		{"too many tags", SearchRequest{Text: "q", Filters: RetrievalFilters{Tags: ids("t", MaxFilterTags+1)}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestSearchRequestDefaults(t *testing.T) {
	r := SearchRequest{Text: "q"}
	if r.TopK() != DefaultSearchLimit || r.Threshold() != DefaultScoreThreshold {
		t.Errorf("unexpected defaults: %d %v", r.TopK(), r.Threshold())
	}
	r = SearchRequest{Text: "q", Limit: 3, ScoreThreshold: ptr(0.0)}
	if r.TopK() != 3 || r.Threshold() != 0 {
		t.Errorf("overrides not applied: %d %v", r.TopK(), r.Threshold())
	}
}

func TestNewSearchHit(t *testing.T) {
	hit := NewSearchHit(&ScoredChunk{
		Chunk: &DocumentChunk{ID: "c1", TenantID: "t1", DocumentID: "d1", Text: "x", Source: "a.pdf", Page: 4, ChunkIndex: 2},
		Score: 0.8,
	})
	want := SearchHit{ChunkID: "c1", DocumentID: "d1", Score: 0.8, Text: "x", Source: "a.pdf", Page: 4, ChunkIndex: 2}
	if hit.ChunkID != want.ChunkID || hit.Page != want.Page || hit.ChunkIndex != want.ChunkIndex || hit.Score != want.Score {
		t.Errorf("expected %+v, got %+v", want, hit)
	}
}

package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Search limits
const (
	DefaultSearchLimit = 10
	MaxSearchLimit     = 50
)

// SearchRequest is a retrieval-only query: matching chunks are returned
// as they are, no answer is generated.
type SearchRequest struct {
	Text           string           `json:"query"`
	Limit          int              `json:"limit,omitempty"`
	ScoreThreshold *float64         `json:"score_threshold,omitempty"`
	Filters        RetrievalFilters `json:"filters,omitempty"`
}

// Validate checks the request shape
func (r SearchRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("%w: query text is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(r.Text) > MaxQueryLength {
		return fmt.Errorf("%w: query exceeds %d characters", ErrInvalidInput, MaxQueryLength)
	}
	if r.Limit < 0 || r.Limit > MaxSearchLimit {
		return fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidInput, MaxSearchLimit)
	}
	if s := r.ScoreThreshold; s != nil && (*s < 0 || *s > 1) {
		return fmt.Errorf("%w: score_threshold must be between 0 and 1", ErrInvalidInput)
	}
	return r.Filters.Validate()
}

// TopK is the requested limit or the default
func (r SearchRequest) TopK() int {
	if r.Limit <= 0 {
		return DefaultSearchLimit
	}
	return r.Limit
}

// Threshold is the requested minimum score or the default
func (r SearchRequest) Threshold() float64 {
	if r.ScoreThreshold == nil {
		return DefaultScoreThreshold
	}
	return *r.ScoreThreshold
}

// SearchHit is one matching chunk
type SearchHit struct {
	ChunkID    string   `json:"chunk_id"`
	DocumentID string   `json:"document_id"`
	Score      float64  `json:"score"`
	Text       string   `json:"text"`
	Source     string   `json:"source"`
	Page       int      `json:"page,omitempty"`
	ChunkIndex int      `json:"chunk_index"`
	Tags       []string `json:"tags,omitempty"`
}

// NewSearchHit flattens a scored chunk
func NewSearchHit(sc *ScoredChunk) SearchHit {
	return SearchHit{
		ChunkID:    sc.Chunk.ID,
		DocumentID: sc.Chunk.DocumentID,
		Score:      sc.Score,
		Text:       sc.Chunk.Text,
		Source:     sc.Chunk.Source,
		Page:       sc.Chunk.Page,
		ChunkIndex: sc.Chunk.ChunkIndex,
		Tags:       sc.Chunk.Tags,
	}
}

// SearchResult lists the hits of one search, best first
type SearchResult struct {
	Query   string        `json:"query"`
	Hits    []SearchHit   `json:"results"`
	Latency time.Duration `json:"-"`
}

package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Query parameter limits
const (
	DefaultMaxChunks      = 5
	MaxMaxChunks          = 50
	DefaultScoreThreshold = 0.7
	DefaultTemperature    = 0.7
	DefaultMaxTokens      = 1000
	MaxMaxTokens          = 8192
	MaxQueryLength        = 4000
)

// QueryParams are the caller-requested knobs of one query.
// Pointer fields distinguish "unset" from zero.
type QueryParams struct {
	MaxChunks      int              `json:"max_chunks,omitempty"`
	ScoreThreshold *float64         `json:"score_threshold,omitempty"`
	Provider       string           `json:"provider,omitempty"`
	Model          string           `json:"model,omitempty"`
	Temperature    *float64         `json:"temperature,omitempty"`
	MaxTokens      int              `json:"max_tokens,omitempty"`
	SystemPrompt   string           `json:"system_prompt,omitempty"`
	Filters        RetrievalFilters `json:"filters,omitempty"`
}

// QueryRequest is the input of submit and stream operations
type QueryRequest struct {
	Text      string      `json:"query"`
	SessionID string      `json:"session_id,omitempty"`
	Turn      int         `json:"turn,omitempty"`
	Params    QueryParams `json:"params"`
	// NoCache forces a cache bypass
	NoCache bool `json:"no_cache,omitempty"`
}

// Validate checks the request shape
func (r QueryRequest) Validate() error {
	text := strings.TrimSpace(r.Text)
	if text == "" {
		return fmt.Errorf("%w: query text is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(r.Text) > MaxQueryLength {
		return fmt.Errorf("%w: query exceeds %d characters", ErrInvalidInput, MaxQueryLength)
	}
	if r.Params.MaxChunks < 0 || r.Params.MaxChunks > MaxMaxChunks {
		return fmt.Errorf("%w: max_chunks must be between 1 and %d", ErrInvalidInput, MaxMaxChunks)
	}
	if r.Params.MaxTokens < 0 || r.Params.MaxTokens > MaxMaxTokens {
		return fmt.Errorf("%w: max_tokens must be between 1 and %d", ErrInvalidInput, MaxMaxTokens)
	}
	if t := r.Params.Temperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("%w: temperature must be between 0 and 2", ErrInvalidInput)
	}
	if s := r.Params.ScoreThreshold; s != nil && (*s < 0 || *s > 1) {
		return fmt.Errorf("%w: score_threshold must be between 0 and 1", ErrInvalidInput)
	}
	if r.Turn < 0 {
		return fmt.Errorf("%w: turn must be positive", ErrInvalidInput)
	}
	return r.Params.Filters.Validate()
}

// ResolvedParams are QueryParams with every default applied
type ResolvedParams struct {
	MaxChunks        int              `json:"max_chunks"`
	ScoreThreshold   float64          `json:"score_threshold"`
	Provider         string           `json:"provider"`
	Model            string           `json:"model"`
	Temperature      float64          `json:"temperature"`
	MaxTokens        int              `json:"max_tokens"`
	MaxContextTokens int              `json:"max_context_tokens"`
	SystemPrompt     string           `json:"system_prompt"`
	Filters          RetrievalFilters `json:"filters"`
}

// Resolve applies defaults. Provider/model precedence is request
// override, then tenant default, then the engine fallback.
func (p QueryParams) Resolve(tc TenantContext, fallbackProvider, fallbackModel string, maxContextTokens int) ResolvedParams {
	r := ResolvedParams{
		MaxChunks:        p.MaxChunks,
		ScoreThreshold:   DefaultScoreThreshold,
		Temperature:      DefaultTemperature,
		MaxTokens:        p.MaxTokens,
		MaxContextTokens: maxContextTokens,
		Filters:          p.Filters.Normalized(),
	}
	if r.MaxChunks <= 0 {
		r.MaxChunks = DefaultMaxChunks
	}
	if r.MaxTokens <= 0 {
		r.MaxTokens = DefaultMaxTokens
	}
	if p.ScoreThreshold != nil {
		r.ScoreThreshold = *p.ScoreThreshold
	}
	if p.Temperature != nil {
		r.Temperature = *p.Temperature
	}

	switch {
	case p.Provider != "":
		r.Provider = p.Provider
		r.Model = p.Model
	case tc.DefaultProvider() != "":
		r.Provider = tc.DefaultProvider()
		r.Model = tc.DefaultModel()
	default:
		r.Provider = fallbackProvider
	}
	if r.Model == "" {
		if p.Model != "" {
			r.Model = p.Model
		} else if r.Provider == fallbackProvider {
			r.Model = fallbackModel
		}
	}

	switch {
	case p.SystemPrompt != "":
		r.SystemPrompt = p.SystemPrompt
	case tc.SystemPrompt() != "":
		r.SystemPrompt = tc.SystemPrompt()
	default:
		r.SystemPrompt = DefaultSystemPrompt
	}
	return r
}

// Query is one accepted request. Immutable after creation.
type Query struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	UserID         string         `json:"user_id"`
	Text           string         `json:"text"`
	NormalizedText string         `json:"normalized_text"`
	SessionID      string         `json:"session_id,omitempty"`
	Turn           int            `json:"turn"`
	Params         ResolvedParams `json:"params"`
	Streaming      bool           `json:"streaming"`
	CreatedAt      time.Time      `json:"created_at"`
}

// NormalizeQuery lower-cases and collapses whitespace
func NormalizeQuery(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

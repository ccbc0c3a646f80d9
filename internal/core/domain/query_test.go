package domain

import (
	"errors"
	"strconv"
	"strings"
	"testing"
)

func ptr[T any](v T) *T { return &v }

func ids(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = prefix + strconv.Itoa(i)
	}
	return out
}

func TestQueryRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     QueryRequest
		wantErr bool
	}{
		{"valid", QueryRequest{Text: "What is the refund policy?"}, false},
		{"empty", QueryRequest{Text: "   "}, true},
		{"too long", QueryRequest{Text: strings.Repeat("a", MaxQueryLength+1)}, true},
		{"max length", QueryRequest{Text: strings.Repeat("é", MaxQueryLength)}, false},
		{"max chunks", QueryRequest{Text: "q", Params: QueryParams{MaxChunks: MaxMaxChunks + 1}}, true},
		{"max tokens", QueryRequest{Text: "q", Params: QueryParams{MaxTokens: -1}}, true},
		{"temperature", QueryRequest{Text: "q", Params: QueryParams{Temperature: ptr(2.5)}}, true},
		{"zero temperature", QueryRequest{Text: "q", Params: QueryParams{Temperature: ptr(0.0)}}, false},
		{"threshold", QueryRequest{Text: "q", Params: QueryParams{ScoreThreshold: ptr(1.5)}}, true},
		{"turn", QueryRequest{Text: "q", Turn: -1}, true},
		{"document ids at cap", QueryRequest{Text: "q", Params: QueryParams{
			Filters: RetrievalFilters{DocumentIDs: ids("d", MaxFilterDocumentIDs)}}}, false},
		{"too many document ids", QueryRequest{Text: "q", Params: QueryParams{
			Filters: RetrievalFilters{DocumentIDs: ids("d", MaxFilterDocumentIDs+1)}}}, true},
		{"too many tags", QueryRequest{Text: "q", Params: QueryParams{
			Filters: RetrievalFilters{Tags: ids("t", MaxFilterTags+1)}}}, true},
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

func TestQueryParamsResolve(t *testing.T) {
	withDefaults, _ := NewTenantContext(&Tenant{
		ID: "t1", Namespace: "ns1", Active: true,
		DefaultProvider: "anthropic", DefaultModel: "claude-3-haiku-20240307",
		SystemPrompt: "Tenant prompt",
	}, "u", nil)
	bare, _ := NewTenantContext(&Tenant{ID: "t2", Namespace: "ns2", Active: true}, "u", nil)

	t.Run("defaults", func(t *testing.T) {
		r := QueryParams{}.Resolve(bare, "openai", "gpt-3.5-turbo", 3000)
		if r.MaxChunks != DefaultMaxChunks || r.MaxTokens != DefaultMaxTokens {
			t.Errorf("unexpected sizes: %+v", r)
		}
		if r.Temperature != DefaultTemperature || r.ScoreThreshold != DefaultScoreThreshold {
			t.Errorf("unexpected sampling: %+v", r)
		}
		if r.Provider != "openai" || r.Model != "gpt-3.5-turbo" {
			t.Errorf("fallback provider not applied: %s/%s", r.Provider, r.Model)
		}
		if r.SystemPrompt != DefaultSystemPrompt || r.MaxContextTokens != 3000 {
			t.Error("prompt or budget not applied")
		}
	})

	t.Run("tenant defaults", func(t *testing.T) {
		r := QueryParams{}.Resolve(withDefaults, "openai", "gpt-3.5-turbo", 3000)
		if r.Provider != "anthropic" || r.Model != "claude-3-haiku-20240307" {
			t.Errorf("tenant provider not applied: %s/%s", r.Provider, r.Model)
		}
		if r.SystemPrompt != "Tenant prompt" {
			t.Errorf("SystemPrompt = %q", r.SystemPrompt)
		}
	})

	t.Run("request overrides", func(t *testing.T) {
		p := QueryParams{
			Provider:     "ollama",
			Model:        "mistral",
			Temperature:  ptr(0.0),
			SystemPrompt: "Request prompt",
			Filters:      RetrievalFilters{Tags: []string{" b", "a", "b"}},
		}
		r := p.Resolve(withDefaults, "openai", "gpt-3.5-turbo", 3000)
		if r.Provider != "ollama" || r.Model != "mistral" || r.Temperature != 0 {
			t.Errorf("overrides not applied: %+v", r)
		}
		if r.SystemPrompt != "Request prompt" {
			t.Errorf("SystemPrompt = %q", r.SystemPrompt)
		}
		if len(r.Filters.Tags) != 2 || r.Filters.Tags[0] != "a" {
			t.Errorf("filters not normalized: %v", r.Filters.Tags)
		}
	})

	t.Run("provider without model", func(t *testing.T) {
		r := QueryParams{Provider: "anthropic"}.Resolve(bare, "openai", "gpt-3.5-turbo", 3000)
		if r.Model != "" {
			t.Errorf("the fallback model belongs to the fallback provider, got %q", r.Model)
		}
	})
}

func TestNormalizeQuery(t *testing.T) {
	if got := NormalizeQuery("  What IS\tthe\n refund   policy? "); got != "what is the refund policy?" {
		t.Errorf("NormalizeQuery() = %q", got)
	}
}

package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

func newProviderServer(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p, err := NewOpenAIProvider(ProviderConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)
	return p
}

func testRequest() driven.GenerationRequest {
	return driven.GenerationRequest{
		Messages: []driven.Message{
			{Role: driven.MessageRoleSystem, Content: "be brief"},
			{Role: driven.MessageRoleUser, Content: "Question: capital of France?"},
		},
		Temperature: 0,
		MaxTokens:   50,
	}
}

type chatBody struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Stream      bool    `json:"stream"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	StreamOptions *struct {
		IncludeUsage bool `json:"include_usage"`
	} `json:"stream_options"`
}

func decodeChat(t *testing.T, r *http.Request) chatBody {
	t.Helper()
	var body chatBody
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestNewOpenAIProvider_Defaults(t *testing.T) {
	_, err := NewOpenAIProvider(ProviderConfig{})
	assert.Error(t, err)

	p, err := NewOpenAIProvider(ProviderConfig{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
	assert.Equal(t, "gpt-3.5-turbo", p.DefaultModel())

	p, err = NewOpenAIProvider(ProviderConfig{Name: "azure", APIKey: "k", Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "azure", p.Name())
	assert.Equal(t, "gpt-4o", p.DefaultModel())
}

func TestOpenAIProvider_Complete(t *testing.T) {
	p := newProviderServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		body := decodeChat(t, r)
		assert.Equal(t, "gpt-3.5-turbo", body.Model)
		assert.Greater(t, body.Temperature, 0.0, "zero temperature must still be sent")
		assert.Equal(t, 50, body.MaxTokens)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, "user", body.Messages[1].Role)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-3.5-turbo-0125",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Paris."},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":12,"completion_tokens":2,"total_tokens":14}}`))
	})

	c, err := p.Complete(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "Paris.", c.Text)
	assert.Equal(t, "stop", c.FinishReason)
	assert.True(t, c.UsageReported)
	assert.Equal(t, domain.TokenUsage{InputTokens: 12, OutputTokens: 2, TotalTokens: 14}, c.Usage)
}

func TestOpenAIProvider_Complete_RateLimited(t *testing.T) {
	p := newProviderServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`))
	})

	_, err := p.Complete(context.Background(), testRequest())
	var pe *domain.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, domain.ProviderRateLimited, pe.Class)
	assert.Equal(t, "openai", pe.Provider)
}

func TestOpenAIProvider_Stream(t *testing.T) {
	p := newProviderServer(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeChat(t, r)
		assert.True(t, body.Stream)
		require.NotNil(t, body.StreamOptions)
		assert.True(t, body.StreamOptions.IncludeUsage)

		w.Header().Set("Content-Type", "text/event-stream")
		frames := []string{
			`{"id":"s","object":"chat.completion.chunk","model":"gpt-4o-mini-2024-07-18","choices":[{"index":0,"delta":{"role":"assistant"}}]}`,
			`{"id":"s","object":"chat.completion.chunk","model":"gpt-4o-mini-2024-07-18","choices":[{"index":0,"delta":{"content":"Par"}}]}`,
			`{"id":"s","object":"chat.completion.chunk","model":"gpt-4o-mini-2024-07-18","choices":[{"index":0,"delta":{"content":"is."},"finish_reason":"stop"}]}`,
			`{"id":"s","object":"chat.completion.chunk","model":"gpt-4o-mini-2024-07-18","choices":[],"usage":{"prompt_tokens":12,"completion_tokens":2,"total_tokens":14}}`,
		}
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	stream, err := p.Stream(context.Background(), testRequest())
	require.NoError(t, err)
	defer stream.Close()

	var text strings.Builder
	var usage *domain.TokenUsage
	var model string
	for {
		d, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		text.WriteString(d.Text)
		if d.Usage != nil {
			usage = d.Usage
		}
		if d.Model != "" {
			model = d.Model
		}
	}
	assert.Equal(t, "Paris.", text.String())
	assert.Equal(t, "gpt-4o-mini-2024-07-18", model)
	require.NotNil(t, usage)
	assert.Equal(t, 14, usage.TotalTokens)
}

func TestOpenAIProvider_Stream_Canceled(t *testing.T) {
	p := newProviderServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Stream(ctx, testRequest())
	var pe *domain.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, domain.ProviderCanceled, pe.Class)
}

package ai

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// Ensure embedding services implement EmbeddingService
var (
	_ driven.EmbeddingService = (*OpenAIEmbedding)(nil)
	_ driven.EmbeddingService = (*OllamaEmbedding)(nil)
)

// OpenAIEmbedding implements EmbeddingService using OpenAI's embedding API
type OpenAIEmbedding struct {
	client     *openai.Client
	httpClient *http.Client
	limiter    *rate.Limiter
	model      string
	dimensions int
}

// NewOpenAIEmbedding creates an OpenAI (or API-compatible) embedding service
func NewOpenAIEmbedding(cfg EmbeddingConfig) (*OpenAIEmbedding, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRequestTimeout
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = httpClient

	return &OpenAIEmbedding{
		client:     openai.NewClientWithConfig(oc),
		httpClient: httpClient,
		limiter:    newLimiter(cfg.RequestsPerSecond, cfg.Burst),
		model:      cfg.Model,
		dimensions: dimensionsFor(cfg.Model, cfg.Dimensions),
	}, nil
}

// Embed generates embeddings for multiple texts
func (e *OpenAIEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := wait(ctx, e.limiter); err != nil {
		return nil, err
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI embeddings: %w", err)
	}

	// Order by index so output matches input
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	return out, nil
}

// EmbedQuery generates an embedding for a query
func (e *OpenAIEmbedding) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return first(e.Embed(ctx, []string{query}))
}

func (e *OpenAIEmbedding) Dimensions() int { return e.dimensions }
func (e *OpenAIEmbedding) Model() string   { return e.model }

// HealthCheck makes a small embedding request
func (e *OpenAIEmbedding) HealthCheck(ctx context.Context) error {
	_, err := e.EmbedQuery(ctx, "health check")
	return err
}

// Close releases idle connections
func (e *OpenAIEmbedding) Close() error {
	e.httpClient.CloseIdleConnections()
	return nil
}

// OllamaEmbedding implements EmbeddingService on a local Ollama server
type OllamaEmbedding struct {
	embedder   embeddings.Embedder
	limiter    *rate.Limiter
	model      string
	dimensions int
}

// NewOllamaEmbedding creates an Ollama embedding service
func NewOllamaEmbedding(cfg EmbeddingConfig) (*OllamaEmbedding, error) {
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("ollama client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: %w", err)
	}
	return &OllamaEmbedding{
		embedder:   embedder,
		limiter:    newLimiter(cfg.RequestsPerSecond, cfg.Burst),
		model:      cfg.Model,
		dimensions: dimensionsFor(cfg.Model, cfg.Dimensions),
	}, nil
}

// Embed generates embeddings for multiple texts
func (e *OllamaEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := wait(ctx, e.limiter); err != nil {
		return nil, err
	}
	out, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: %w", err)
	}
	return out, nil
}

// EmbedQuery generates an embedding for a query
func (e *OllamaEmbedding) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if err := wait(ctx, e.limiter); err != nil {
		return nil, err
	}
	v, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: %w", err)
	}
	return v, nil
}

func (e *OllamaEmbedding) Dimensions() int { return e.dimensions }
func (e *OllamaEmbedding) Model() string   { return e.model }

// HealthCheck makes a small embedding request
func (e *OllamaEmbedding) HealthCheck(ctx context.Context) error {
	_, err := e.EmbedQuery(ctx, "health check")
	return err
}

func (e *OllamaEmbedding) Close() error { return nil }

func dimensionsFor(model string, configured int) int {
	if configured > 0 {
		return configured
	}
	if d, ok := embeddingDimensions[model]; ok {
		return d
	}
	return 1536
}

func first(vectors [][]float32, err error) ([]float32, error) {
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("no embedding returned for query")
	}
	return vectors[0], nil
}

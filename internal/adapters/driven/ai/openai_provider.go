package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// Ensure OpenAIProvider implements GenerationProvider
var _ driven.GenerationProvider = (*OpenAIProvider)(nil)

// OpenAIProvider generates answers with the OpenAI chat completions API
type OpenAIProvider struct {
	name       string
	model      string
	client     *openai.Client
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewOpenAIProvider creates an OpenAI (or API-compatible) provider
func NewOpenAIProvider(cfg ProviderConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if cfg.Name == "" {
		cfg.Name = KindOpenAI
	}
	if cfg.Model == "" {
		cfg.Model = defaultModels[KindOpenAI]
	}
	// No client timeout: streams are bounded by the request context.
	httpClient := &http.Client{}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = httpClient

	return &OpenAIProvider{
		name:       cfg.Name,
		model:      cfg.Model,
		client:     openai.NewClientWithConfig(oc),
		httpClient: httpClient,
		limiter:    newLimiter(cfg.RequestsPerSecond, cfg.Burst),
	}, nil
}

func (p *OpenAIProvider) Name() string         { return p.name }
func (p *OpenAIProvider) DefaultModel() string { return p.model }

func (p *OpenAIProvider) request(req driven.GenerationRequest) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = p.model
	}
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == driven.MessageRoleSystem {
			role = openai.ChatMessageRoleSystem
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	temperature := float32(req.Temperature)
	if temperature == 0 {
		// The client drops a zero temperature from the payload.
		temperature = math.SmallestNonzeroFloat32
	}
	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   req.MaxTokens,
	}
}

// Complete blocks until the full completion is available
func (p *OpenAIProvider) Complete(ctx context.Context, req driven.GenerationRequest) (*driven.Completion, error) {
	if err := wait(ctx, p.limiter); err != nil {
		return nil, classify(p.name, err)
	}
	resp, err := p.client.CreateChatCompletion(ctx, p.request(req))
	if err != nil {
		return nil, classify(p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, classify(p.name, errors.New("no choices returned"))
	}
	return &driven.Completion{
		Text:         resp.Choices[0].Message.Content,
		Model:        resp.Model,
		FinishReason: string(resp.Choices[0].FinishReason),
		Usage: domain.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
		UsageReported: resp.Usage.TotalTokens > 0,
	}, nil
}

// Stream opens an incremental completion that reports usage in its last chunk
func (p *OpenAIProvider) Stream(ctx context.Context, req driven.GenerationRequest) (driven.CompletionStream, error) {
	if err := wait(ctx, p.limiter); err != nil {
		return nil, classify(p.name, err)
	}
	r := p.request(req)
	r.Stream = true
	r.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	stream, err := p.client.CreateChatCompletionStream(ctx, r)
	if err != nil {
		return nil, classify(p.name, err)
	}
	return &openAIStream{provider: p.name, stream: stream}, nil
}

// Close releases idle connections
func (p *OpenAIProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

type openAIStream struct {
	provider string
	stream   *openai.ChatCompletionStream
}

func (s *openAIStream) Recv() (driven.StreamDelta, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return driven.StreamDelta{}, io.EOF
		}
		if err != nil {
			return driven.StreamDelta{}, classify(s.provider, err)
		}

		delta := driven.StreamDelta{Model: resp.Model}
		if len(resp.Choices) > 0 {
			delta.Text = resp.Choices[0].Delta.Content
		}
		if resp.Usage != nil {
			delta.Usage = &domain.TokenUsage{
				InputTokens:  resp.Usage.PromptTokens,
				OutputTokens: resp.Usage.CompletionTokens,
				TotalTokens:  resp.Usage.TotalTokens,
			}
		}
		// Role-only and empty keep-alive chunks carry nothing
		if delta.Text == "" && delta.Usage == nil {
			continue
		}
		return delta, nil
	}
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}

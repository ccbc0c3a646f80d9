package ai

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// Ensure LangChainProvider implements GenerationProvider
var _ driven.GenerationProvider = (*LangChainProvider)(nil)

// LangChainProvider adapts a langchaingo model (Anthropic, Ollama) to
// the generation port.
type LangChainProvider struct {
	name    string
	model   string
	llm     llms.Model
	limiter *rate.Limiter
}

// NewLangChainProvider wraps an existing langchaingo model
func NewLangChainProvider(name, defaultModel string, llm llms.Model, limiter *rate.Limiter) *LangChainProvider {
	return &LangChainProvider{name: name, model: defaultModel, llm: llm, limiter: limiter}
}

// NewAnthropicProvider creates a provider on the Anthropic messages API
func NewAnthropicProvider(cfg ProviderConfig) (*LangChainProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required")
	}
	if cfg.Name == "" {
		cfg.Name = KindAnthropic
	}
	if cfg.Model == "" {
		cfg.Model = defaultModels[KindAnthropic]
	}
	opts := []anthropic.Option{anthropic.WithToken(cfg.APIKey), anthropic.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}
	llm, err := anthropic.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("anthropic client: %w", err)
	}
	return NewLangChainProvider(cfg.Name, cfg.Model, llm, newLimiter(cfg.RequestsPerSecond, cfg.Burst)), nil
}

// NewOllamaProvider creates a provider on a local Ollama server
func NewOllamaProvider(cfg ProviderConfig) (*LangChainProvider, error) {
	if cfg.Name == "" {
		cfg.Name = KindOllama
	}
	if cfg.Model == "" {
		cfg.Model = defaultModels[KindOllama]
	}
	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("ollama client: %w", err)
	}
	return NewLangChainProvider(cfg.Name, cfg.Model, llm, newLimiter(cfg.RequestsPerSecond, cfg.Burst)), nil
}

func (p *LangChainProvider) Name() string         { return p.name }
func (p *LangChainProvider) DefaultModel() string { return p.model }
func (p *LangChainProvider) Close() error         { return nil }

func (p *LangChainProvider) prepare(req driven.GenerationRequest) ([]llms.MessageContent, []llms.CallOption) {
	messages := make([]llms.MessageContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := llms.ChatMessageTypeHuman
		if m.Role == driven.MessageRoleSystem {
			role = llms.ChatMessageTypeSystem
		}
		messages = append(messages, llms.TextParts(role, m.Content))
	}
	model := req.Model
	if model == "" {
		model = p.model
	}
	opts := []llms.CallOption{
		llms.WithModel(model),
		llms.WithTemperature(req.Temperature),
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	return messages, opts
}

// Complete blocks until the full completion is available
func (p *LangChainProvider) Complete(ctx context.Context, req driven.GenerationRequest) (*driven.Completion, error) {
	if err := wait(ctx, p.limiter); err != nil {
		return nil, classify(p.name, err)
	}
	messages, opts := p.prepare(req)
	resp, err := p.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, classify(p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, classify(p.name, errors.New("no choices returned"))
	}
	choice := resp.Choices[0]
	usage, reported := usageFromInfo(choice.GenerationInfo)
	model := req.Model
	if model == "" {
		model = p.model
	}
	return &driven.Completion{
		Text:          choice.Content,
		Model:         model,
		FinishReason:  choice.StopReason,
		Usage:         usage,
		UsageReported: reported,
	}, nil
}

// Stream runs the model with a streaming callback in its own goroutine
// and hands the chunks out through Recv.
func (p *LangChainProvider) Stream(ctx context.Context, req driven.GenerationRequest) (driven.CompletionStream, error) {
	if err := wait(ctx, p.limiter); err != nil {
		return nil, classify(p.name, err)
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &langChainStream{deltas: make(chan driven.StreamDelta), cancel: cancel}
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages, opts := p.prepare(req)
	opts = append(opts, llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		select {
		case s.deltas <- driven.StreamDelta{Text: string(chunk)}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))

	go func() {
		defer close(s.deltas)
		resp, err := p.llm.GenerateContent(ctx, messages, opts...)
		if err != nil {
			s.err = classify(p.name, err)
			return
		}
		if len(resp.Choices) == 0 {
			return
		}
		final := driven.StreamDelta{Model: model}
		if usage, ok := usageFromInfo(resp.Choices[0].GenerationInfo); ok {
			final.Usage = &usage
		}
		select {
		case s.deltas <- final:
		case <-ctx.Done():
		}
	}()
	return s, nil
}

type langChainStream struct {
	deltas chan driven.StreamDelta
	cancel context.CancelFunc
	// err is written before deltas is closed
	err error
}

func (s *langChainStream) Recv() (driven.StreamDelta, error) {
	d, ok := <-s.deltas
	if !ok {
		if s.err != nil {
			return driven.StreamDelta{}, s.err
		}
		return driven.StreamDelta{}, io.EOF
	}
	return d, nil
}

func (s *langChainStream) Close() error {
	s.cancel()
	for range s.deltas {
	}
	return nil
}

// usageFromInfo reads token counts from a choice's generation info.
// Anthropic reports InputTokens/OutputTokens, the others
// PromptTokens/CompletionTokens.
func usageFromInfo(info map[string]any) (domain.TokenUsage, bool) {
	in, okIn := intField(info, "InputTokens", "PromptTokens")
	out, okOut := intField(info, "OutputTokens", "CompletionTokens")
	if !okIn && !okOut {
		return domain.TokenUsage{}, false
	}
	total, ok := intField(info, "TotalTokens")
	if !ok || total == 0 {
		total = in + out
	}
	return domain.TokenUsage{InputTokens: in, OutputTokens: out, TotalTokens: total}, true
}

func intField(info map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return v, true
		case int32:
			return int(v), true
		case int64:
			return int(v), true
		case float64:
			return int(v), true
		}
	}
	return 0, false
}

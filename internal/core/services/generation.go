package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-rag/internal/runtime"
)

// GenerationOrchestrator builds the prompt, calls the selected provider
// and accounts for tokens and cost.
// Generation is never retried except once for a connection reset that
// happened before any output reached the caller.
type GenerationOrchestrator struct {
	services *runtime.Services
	pricing  domain.Pricing
	metrics  driven.MetricsRecorder
	logger   *slog.Logger
}

// GenerationConfig holds configuration for the orchestrator.
type GenerationConfig struct {
	Services *runtime.Services
	Pricing  domain.Pricing // Optional: defaults to domain.DefaultPricing()
	Metrics  driven.MetricsRecorder
	Logger   *slog.Logger
}

// NewGenerationOrchestrator creates a new orchestrator
func NewGenerationOrchestrator(cfg GenerationConfig) *GenerationOrchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pricing := cfg.Pricing
	if pricing == nil {
		pricing = domain.DefaultPricing()
	}
	var metrics driven.MetricsRecorder = nopMetrics{}
	if cfg.Metrics != nil {
		metrics = cfg.Metrics
	}
	return &GenerationOrchestrator{
		services: cfg.Services,
		pricing:  pricing,
		metrics:  metrics,
		logger:   logger,
	}
}

// Provider resolves the provider named by the query parameters
func (o *GenerationOrchestrator) Provider(q *domain.Query) (driven.GenerationProvider, error) {
	return o.services.Provider(q.Params.Provider)
}

func (o *GenerationOrchestrator) request(p driven.GenerationProvider, q *domain.Query, ac domain.AssembledContext) driven.GenerationRequest {
	model := q.Params.Model
	if model == "" {
		model = p.DefaultModel()
	}
	return driven.GenerationRequest{
		Model:       model,
		Messages:    BuildPrompt(q.Params.SystemPrompt, q.Text, ac),
		Temperature: q.Params.Temperature,
		MaxTokens:   q.Params.MaxTokens,
	}
}

// Generate runs one blocking completion and returns the complete result.
func (o *GenerationOrchestrator) Generate(ctx context.Context, q *domain.Query, ac domain.AssembledContext) (*domain.QueryResult, error) {
	p, err := o.Provider(q)
	if err != nil {
		return nil, err
	}
	req := o.request(p, q, ac)

	completion, err := p.Complete(ctx, req)
	if err != nil && domain.IsConnectionReset(err) && ctx.Err() == nil {
		o.metrics.ProviderRetried(p.Name())
		o.logger.Warn("retrying generation after connection reset", "provider", p.Name(), "query_id", q.ID)
		completion, err = p.Complete(ctx, req)
	}
	if err != nil {
		return nil, generationError(p.Name(), err)
	}

	usage := completion.Usage
	if !completion.UsageReported {
		usage = estimateUsage(req.Messages, completion.Text)
	}
	model := completion.Model
	if model == "" {
		model = req.Model
	}
	return o.result(q, ac, p.Name(), model, completion.Text, usage, domain.QueryStatusCompleted), nil
}

// Stream runs a streaming completion, passing each increment to emit in
// order. It returns the accumulated result once the stream ends.
//
// When ctx is cancelled or emit fails the provider stream is closed and a
// partial result with the text received so far is returned alongside
// the error. A nil result means generation never started.
func (o *GenerationOrchestrator) Stream(
	ctx context.Context,
	q *domain.Query,
	ac domain.AssembledContext,
	emit func(text string) error,
) (*domain.QueryResult, error) {
	p, err := o.Provider(q)
	if err != nil {
		return nil, err
	}
	req := o.request(p, q, ac)

	var (
		answer  strings.Builder
		usage   *domain.TokenUsage
		emitted bool
		// Ledgered like a blocking completion: the served model wins
		model = req.Model
	)
	consume := func(stream driven.CompletionStream) error {
		defer stream.Close()
		for {
			delta, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			if delta.Usage != nil {
				u := *delta.Usage
				usage = &u
			}
			if delta.Model != "" {
				model = delta.Model
			}
			if delta.Text == "" {
				continue
			}
			answer.WriteString(delta.Text)
			emitted = true
			if err := emit(delta.Text); err != nil {
				return err
			}
		}
	}

	for attempt := 0; ; attempt++ {
		var stream driven.CompletionStream
		stream, err = p.Stream(ctx, req)
		if err == nil {
			err = consume(stream)
		}
		if err == nil {
			break
		}
		if attempt == 0 && !emitted && domain.IsConnectionReset(err) && ctx.Err() == nil {
			o.metrics.ProviderRetried(p.Name())
			o.logger.Warn("retrying stream after connection reset", "provider", p.Name(), "query_id", q.ID)
			continue
		}
		break
	}

	u := estimateUsage(req.Messages, answer.String())
	if usage != nil {
		u = *usage
	}

	if err == nil {
		return o.result(q, ac, p.Name(), model, answer.String(), u, domain.QueryStatusCompleted), nil
	}

	genErr := generationError(p.Name(), err)
	status := domain.QueryStatusFailed
	if emitted || errors.Is(ctx.Err(), context.Canceled) {
		status = domain.QueryStatusPartial
	}
	if !emitted && usage == nil {
		u = domain.TokenUsage{}
	}
	result := o.result(q, ac, p.Name(), model, answer.String(), u, status)
	result.ErrorKind = domain.KindGenerationFailed
	result.ErrorMessage = genErr.Error()
	return result, genErr
}

func (o *GenerationOrchestrator) result(
	q *domain.Query,
	ac domain.AssembledContext,
	provider, model, answer string,
	usage domain.TokenUsage,
	status domain.QueryStatus,
) *domain.QueryResult {
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}
	cost := o.pricing.Cost(model, usage)
	o.metrics.TokensUsed(provider, usage, cost)
	return &domain.QueryResult{
		ID:            q.ID,
		Answer:        answer,
		Fragments:     ac.Fragments,
		Usage:         usage,
		EstimatedCost: roundCost(cost),
		Status:        status,
		Provider:      provider,
		Model:         model,
		CompletedAt:   time.Now().UTC(),
	}
}

func estimateUsage(messages []driven.Message, answer string) domain.TokenUsage {
	in := estimateMessageTokens(messages)
	out := domain.EstimateTokens(answer)
	return domain.TokenUsage{InputTokens: in, OutputTokens: out, TotalTokens: in + out}
}

// roundCost keeps six decimal places, the precision of the ledger column
func roundCost(c float64) float64 {
	return math.Round(c*1e6) / 1e6
}

// generationError wraps a provider failure, preserving its class
func generationError(provider string, err error) error {
	class := string(domain.ProviderUpstream)
	var pe *domain.ProviderError
	switch {
	case errors.As(err, &pe):
		class = string(pe.Class)
	case errors.Is(err, context.DeadlineExceeded):
		class = string(domain.ProviderTimeout)
	case errors.Is(err, context.Canceled):
		class = string(domain.ProviderCanceled)
	}
	qe := domain.NewQueryError(domain.ErrGenerationFailed, provider+" "+class, err)
	qe.UpstreamClass = class
	return qe
}

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-rag/internal/runtime"
)

// Ensure queryEngine implements QueryService
var _ driving.QueryService = (*queryEngine)(nil)

// Engine defaults
const (
	DefaultMaxContextTokens = 3000
	DefaultQueryTimeout     = 60 * time.Second
	DefaultStreamBuffer     = 16
	DefaultHistoryLimit     = 20
	MaxHistoryLimit         = 100
	DefaultAnalyticsDays    = 30
	MaxAnalyticsDays        = 365
)

const tracerName = "github.com/custodia-labs/sercha-rag/internal/core/services"

// QueryEngineConfig holds the engine's collaborators and budgets.
type QueryEngineConfig struct {
	Services    *runtime.Services // Embedding service and generation providers
	VectorStore driven.VectorStore
	Quota       *QuotaController
	Cache       *ResponseCachePolicy // Optional: caching is disabled when nil
	Ledger      driven.LedgerStore
	Pricing     domain.Pricing
	Metrics     driven.MetricsRecorder
	Logger      *slog.Logger

	MaxContextTokens int           // Context token budget (default: 3000)
	Timeout          time.Duration // End-to-end deadline per query (default: 60s)
	StreamBuffer     int           // Buffered stream frames (default: 16)
}

// queryEngine runs the retrieval-and-generation pipeline:
// admission, cache, embedding, retrieval, assembly, generation, ledger.
type queryEngine struct {
	services     *runtime.Services
	quota        *QuotaController
	cache        *ResponseCachePolicy
	retriever    *Retriever
	assembler    *ContextAssembler
	orchestrator *GenerationOrchestrator
	ledger       *QueryLedger
	ledgerStore  driven.LedgerStore
	metrics      driven.MetricsRecorder
	tracer       trace.Tracer
	logger       *slog.Logger

	maxContextTokens int
	timeout          time.Duration
	streamBuffer     int
	now              func() time.Time
}

// NewQueryEngine creates a new QueryService
func NewQueryEngine(cfg QueryEngineConfig) driving.QueryService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var metrics driven.MetricsRecorder = nopMetrics{}
	if cfg.Metrics != nil {
		metrics = cfg.Metrics
	}
	cache := cfg.Cache
	if cache == nil {
		cache = NewResponseCachePolicy(ResponseCacheConfig{Logger: logger})
	}
	maxContext := cfg.MaxContextTokens
	if maxContext <= 0 {
		maxContext = DefaultMaxContextTokens
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	buffer := cfg.StreamBuffer
	if buffer <= 0 {
		buffer = DefaultStreamBuffer
	}

	return &queryEngine{
		services:  cfg.Services,
		quota:     cfg.Quota,
		cache:     cache,
		retriever: NewRetriever(cfg.VectorStore, logger),
		assembler: NewContextAssembler(),
		orchestrator: NewGenerationOrchestrator(GenerationConfig{
			Services: cfg.Services,
			Pricing:  cfg.Pricing,
			Metrics:  metrics,
			Logger:   logger,
		}),
		ledger:           NewQueryLedger(cfg.Ledger, metrics, logger),
		ledgerStore:      cfg.Ledger,
		metrics:          metrics,
		tracer:           otel.Tracer(tracerName),
		logger:           logger,
		maxContextTokens: maxContext,
		timeout:          timeout,
		streamBuffer:     buffer,
		now:              time.Now,
	}
}

// Submit runs the full pipeline and returns the complete result
func (e *queryEngine) Submit(ctx context.Context, tc domain.TenantContext, req domain.QueryRequest) (*domain.QueryResult, error) {
	start := e.now()
	q, err := e.accept(tc, req, false)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	ctx, span := e.tracer.Start(ctx, "QueryEngine.Submit", trace.WithAttributes(
		attribute.String("tenant.id", q.TenantID),
		attribute.String("query.id", q.ID),
		attribute.String("llm.provider", q.Params.Provider),
	))
	defer span.End()

	estimate, err := e.admit(ctx, tc, q)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	outcome := cacheBypass
	var key domain.CacheKey
	if e.cache.Eligible(q, req.NoCache) {
		stageCtx, end := e.stage(ctx, stageCache)
		var keyed bool
		key, keyed = e.cache.Key(stageCtx, q)
		if keyed {
			cached, hit := e.cache.Lookup(stageCtx, key)
			end(nil)
			if hit {
				span.SetAttributes(attribute.Bool("cache.hit", true))
				return e.serveCached(ctx, tc, q, cached, estimate, start), nil
			}
			outcome = cacheMiss
		} else {
			end(nil)
		}
	}

	ac, err := e.prepare(ctx, tc, q)
	if err != nil {
		recordSpanError(span, err)
		e.fail(ctx, tc, q, estimate, start, outcome, err)
		return nil, err
	}

	genCtx, end := e.stage(ctx, stageGenerate)
	result, err := e.orchestrator.Generate(genCtx, q, ac)
	end(err)
	if err != nil {
		recordSpanError(span, err)
		e.fail(ctx, tc, q, estimate, start, outcome, err)
		return nil, err
	}

	if outcome == cacheMiss {
		e.cache.Store(ctx, key, result)
	}
	e.finish(ctx, tc, q, result, estimate, start, outcome)
	return result, nil
}

// Stream runs admission and retrieval synchronously, then hands
// generation to a dedicated goroutine that feeds the returned stream.
func (e *queryEngine) Stream(ctx context.Context, tc domain.TenantContext, req domain.QueryRequest) (*domain.AnswerStream, error) {
	start := e.now()
	q, err := e.accept(tc, req, true)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	ctx, span := e.tracer.Start(ctx, "QueryEngine.Stream", trace.WithAttributes(
		attribute.String("tenant.id", q.TenantID),
		attribute.String("query.id", q.ID),
		attribute.String("llm.provider", q.Params.Provider),
	))

	estimate, err := e.admit(ctx, tc, q)
	if err != nil {
		recordSpanError(span, err)
		span.End()
		cancel()
		return nil, err
	}

	ac, err := e.prepare(ctx, tc, q)
	if err != nil {
		recordSpanError(span, err)
		e.fail(ctx, tc, q, estimate, start, cacheBypass, err)
		span.End()
		cancel()
		return nil, err
	}

	events := make(chan domain.StreamEvent, e.streamBuffer)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(events)
		defer cancel()
		defer span.End()

		emit := func(text string) error {
			select {
			case events <- domain.StreamEvent{Type: domain.StreamEventDelta, Text: text}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		genCtx, end := e.stage(ctx, stageGenerate)
		result, err := e.orchestrator.Stream(genCtx, q, ac, emit)
		end(err)

		if result == nil {
			// Generation never started
			recordSpanError(span, err)
			e.fail(ctx, tc, q, estimate, start, cacheBypass, err)
			events <- errorFrame(err)
			return
		}

		e.finish(ctx, tc, q, result, estimate, start, cacheBypass)
		if err != nil {
			recordSpanError(span, err)
			// The consumer may be gone; Close drains the channel.
			events <- errorFrame(err)
			return
		}
		events <- domain.StreamEvent{Type: domain.StreamEventEnd, Result: result}
	}()

	return domain.NewAnswerStream(q.ID, events, cancel, done), nil
}

// Search runs quota admission, embedding and retrieval, and returns the
// matching chunks. Nothing is generated, cached or ledgered.
func (e *queryEngine) Search(ctx context.Context, tc domain.TenantContext, req domain.SearchRequest) (*domain.SearchResult, error) {
	start := e.now()
	if !tc.Valid() {
		return nil, domain.ErrUnauthorized
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	ctx, span := e.tracer.Start(ctx, "QueryEngine.Search", trace.WithAttributes(
		attribute.String("tenant.id", tc.TenantID()),
	))
	defer span.End()

	quotaCtx, end := e.stage(ctx, stageQuota)
	err := e.quota.Admit(quotaCtx, tc, domain.EstimateTokens(req.Text))
	end(err)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	embedCtx, end := e.stage(ctx, stageEmbed)
	vector, err := e.embed(embedCtx, req.Text)
	end(err)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	retrieveCtx, end := e.stage(ctx, stageRetrieve)
	chunks, err := e.retriever.Search(retrieveCtx, tc, vector, req.Filters.Normalized(), req.TopK(), req.Threshold())
	end(err)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	result := &domain.SearchResult{Query: req.Text, Hits: make([]domain.SearchHit, 0, len(chunks))}
	for _, sc := range chunks {
		result.Hits = append(result.Hits, domain.NewSearchHit(sc))
	}
	result.Latency = e.now().Sub(start)
	e.logger.Info("search finished",
		"tenant_id", tc.TenantID(),
		"hits", len(result.Hits),
		"latency_ms", result.Latency.Milliseconds())
	return result, nil
}

// accept validates the request and builds the immutable query record
func (e *queryEngine) accept(tc domain.TenantContext, req domain.QueryRequest, streaming bool) (*domain.Query, error) {
	if !tc.Valid() {
		return nil, domain.ErrUnauthorized
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	fallbackProvider, fallbackModel := e.services.DefaultProvider()
	params := req.Params.Resolve(tc, fallbackProvider, fallbackModel, e.maxContextTokens)
	if _, err := e.services.Provider(params.Provider); err != nil {
		return nil, err
	}

	turn := req.Turn
	if turn <= 0 {
		turn = 1
	}
	return &domain.Query{
		ID:             uuid.NewString(),
		TenantID:       tc.TenantID(),
		UserID:         tc.UserID(),
		Text:           req.Text,
		NormalizedText: domain.NormalizeQuery(req.Text),
		SessionID:      req.SessionID,
		Turn:           turn,
		Params:         params,
		Streaming:      streaming,
		CreatedAt:      e.now().UTC(),
	}, nil
}

// admit reserves quota before any paid work. Rejections are not ledgered.
func (e *queryEngine) admit(ctx context.Context, tc domain.TenantContext, q *domain.Query) (int, error) {
	ctx, end := e.stage(ctx, stageQuota)
	estimate := EstimateAdmissionTokens(q.Params, q.Text)
	err := e.quota.Admit(ctx, tc, estimate)
	end(err)
	return estimate, err
}

// prepare embeds the query, retrieves candidates and assembles the context
func (e *queryEngine) prepare(ctx context.Context, tc domain.TenantContext, q *domain.Query) (domain.AssembledContext, error) {
	embedCtx, end := e.stage(ctx, stageEmbed)
	vector, err := e.embed(embedCtx, q.Text)
	end(err)
	if err != nil {
		return domain.AssembledContext{}, err
	}

	retrieveCtx, end := e.stage(ctx, stageRetrieve)
	chunks, err := e.retriever.Search(retrieveCtx, tc, vector, q.Params.Filters, q.Params.MaxChunks, q.Params.ScoreThreshold)
	end(err)
	if err != nil {
		return domain.AssembledContext{}, err
	}

	_, end = e.stage(ctx, stageAssemble)
	ac := e.assembler.Assemble(chunks, q.Params.MaxChunks, q.Params.MaxContextTokens)
	end(nil)

	e.logger.Debug("context assembled",
		"tenant_id", tc.TenantID(),
		"query_id", q.ID,
		"candidates", len(chunks),
		"fragments", len(ac.Fragments),
		"context_tokens", ac.Tokens)
	return ac, nil
}

func (e *queryEngine) embed(ctx context.Context, text string) ([]float32, error) {
	svc := e.services.EmbeddingService()
	if svc == nil {
		return nil, domain.NewQueryError(domain.ErrEmbeddingUnavailable, "no embedding service configured", nil)
	}
	vector, err := svc.EmbedQuery(ctx, text)
	if err != nil {
		return nil, domain.NewQueryError(domain.ErrEmbeddingUnavailable, "embed query", err)
	}
	if len(vector) == 0 {
		return nil, domain.NewQueryError(domain.ErrEmbeddingUnavailable, "empty embedding", nil)
	}
	return vector, nil
}

// serveCached answers from the cache. The hit still counts as a query
// but its token reservation is refunded.
func (e *queryEngine) serveCached(
	ctx context.Context,
	tc domain.TenantContext,
	q *domain.Query,
	cached *domain.QueryResult,
	estimate int,
	start time.Time,
) *domain.QueryResult {
	result := cached.Clone()
	result.ID = q.ID
	result.CacheHit = true
	result.Usage = domain.TokenUsage{}
	result.EstimatedCost = 0
	result.Warnings = nil
	result.CompletedAt = e.now().UTC()
	e.finish(ctx, tc, q, result, estimate, start, cacheHit)
	return result
}

// fail records a query that ended before producing an answer
func (e *queryEngine) fail(
	ctx context.Context,
	tc domain.TenantContext,
	q *domain.Query,
	estimate int,
	start time.Time,
	outcome string,
	err error,
) {
	result := &domain.QueryResult{
		ID:           q.ID,
		Status:       domain.QueryStatusFailed,
		Provider:     q.Params.Provider,
		Model:        q.Params.Model,
		ErrorKind:    domain.KindOf(err),
		ErrorMessage: err.Error(),
		CompletedAt:  e.now().UTC(),
	}
	e.logger.Warn("query failed",
		"tenant_id", tc.TenantID(),
		"query_id", q.ID,
		"kind", result.ErrorKind,
		"upstream_class", domain.UpstreamClass(err),
		"retryable", domain.IsRetryable(err))
	e.finish(ctx, tc, q, result, estimate, start, outcome)
}

// finish reconciles quota, writes the ledger and records metrics.
// It runs detached from ctx's cancellation.
func (e *queryEngine) finish(
	ctx context.Context,
	tc domain.TenantContext,
	q *domain.Query,
	result *domain.QueryResult,
	estimate int,
	start time.Time,
	outcome string,
) {
	detached := context.WithoutCancel(ctx)
	result.Latency = e.now().Sub(start)

	e.quota.Reconcile(detached, tc, estimate, result.Usage.TotalTokens)

	_, end := e.stage(detached, stageLedger)
	ok := e.ledger.Record(detached, q, result)
	end(nil)
	if !ok {
		result.Warnings = append(result.Warnings, string(domain.KindLedgerWriteFailed))
	}

	e.metrics.QueryFinished(result.Status, outcome, result.Latency)
	e.logger.Info("query finished",
		"tenant_id", tc.TenantID(),
		"query_id", q.ID,
		"status", result.Status,
		"cache", outcome,
		"total_tokens", result.Usage.TotalTokens,
		"latency_ms", result.Latency.Milliseconds())
}

// stage starts a child span and returns a function that ends it and
// records the stage latency
func (e *queryEngine) stage(ctx context.Context, name string) (context.Context, func(error)) {
	ctx, span := e.tracer.Start(ctx, "QueryEngine."+name)
	start := e.now()
	return ctx, func(err error) {
		e.metrics.StageObserved(name, e.now().Sub(start))
		if err != nil {
			recordSpanError(span, err)
		}
		span.End()
	}
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func errorFrame(err error) domain.StreamEvent {
	return domain.StreamEvent{
		Type:    domain.StreamEventError,
		Kind:    domain.KindOf(err),
		Message: err.Error(),
	}
}

// History lists the tenant's ledger entries, newest first.
// Non-admin principals only see their own queries.
func (e *queryEngine) History(ctx context.Context, tc domain.TenantContext, filter domain.HistoryFilter) ([]*domain.LedgerEntry, int, error) {
	if !tc.Valid() {
		return nil, 0, domain.ErrUnauthorized
	}
	if filter.Limit <= 0 {
		filter.Limit = DefaultHistoryLimit
	}
	if filter.Limit > MaxHistoryLimit {
		filter.Limit = MaxHistoryLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if !tc.IsAdmin() {
		filter.UserID = tc.UserID()
	}
	return e.ledgerStore.History(ctx, tc.TenantID(), filter)
}

// Get retrieves one ledger entry visible to the caller
func (e *queryEngine) Get(ctx context.Context, tc domain.TenantContext, queryID string) (*domain.LedgerEntry, error) {
	if !tc.Valid() {
		return nil, domain.ErrUnauthorized
	}
	if queryID == "" {
		return nil, fmt.Errorf("%w: query id is required", domain.ErrInvalidInput)
	}
	entry, err := e.ledgerStore.Get(ctx, tc.TenantID(), queryID)
	if err != nil {
		return nil, err
	}
	if !tc.IsAdmin() && entry.Query.UserID != tc.UserID() {
		return nil, domain.ErrNotFound
	}
	return entry, nil
}

// SubmitFeedback rates an answer the caller can see
func (e *queryEngine) SubmitFeedback(ctx context.Context, tc domain.TenantContext, queryID string, rating int, comment string) (*domain.Feedback, error) {
	if _, err := e.Get(ctx, tc, queryID); err != nil {
		return nil, err
	}
	feedback := &domain.Feedback{
		QueryID:   queryID,
		TenantID:  tc.TenantID(),
		UserID:    tc.UserID(),
		Rating:    rating,
		Comment:   comment,
		CreatedAt: e.now().UTC(),
	}
	if err := feedback.Validate(); err != nil {
		return nil, fmt.Errorf("%w: rating must be between 1 and 5", err)
	}
	if err := e.ledgerStore.AddFeedback(ctx, feedback); err != nil {
		return nil, err
	}
	return feedback, nil
}

// Analytics summarizes the tenant's last days of usage
func (e *queryEngine) Analytics(ctx context.Context, tc domain.TenantContext, days int) (*domain.AnalyticsSummary, error) {
	if !tc.Valid() {
		return nil, domain.ErrUnauthorized
	}
	if days == 0 {
		days = DefaultAnalyticsDays
	}
	if days < 1 || days > MaxAnalyticsDays {
		return nil, fmt.Errorf("%w: days must be between 1 and %d", domain.ErrInvalidInput, MaxAnalyticsDays)
	}
	now := e.now().UTC()
	since := now.Add(-time.Duration(days) * 24 * time.Hour)
	today := now.Truncate(24 * time.Hour)

	summary, err := e.ledgerStore.Analytics(ctx, tc.TenantID(), since, today)
	if err != nil {
		return nil, err
	}
	summary.PeriodDays = days
	return summary, nil
}

// Usage returns the tenant's current quota counter
func (e *queryEngine) Usage(ctx context.Context, tc domain.TenantContext) (*domain.QuotaCounter, error) {
	if !tc.Valid() {
		return nil, domain.ErrUnauthorized
	}
	counter, err := e.quota.Usage(ctx, tc)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return counter, nil
}

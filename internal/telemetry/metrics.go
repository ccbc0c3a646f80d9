package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

const namespace = "sercha_rag"

// Verify interface compliance
var _ driven.MetricsRecorder = (*Metrics)(nil)

// Metrics records engine measurements in a dedicated prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	queries           *prometheus.CounterVec
	queryLatency      *prometheus.HistogramVec
	quotaRejections   *prometheus.CounterVec
	tokens            *prometheus.CounterVec
	cost              *prometheus.CounterVec
	stageLatency      *prometheus.HistogramVec
	providerRetries   *prometheus.CounterVec
	ledgerWriteErrors prometheus.Counter
}

// NewMetrics creates and registers the engine collectors.
// Go runtime and process collectors are registered alongside.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "total",
			Help:      "Finished queries by terminal status and cache outcome",
		}, []string{"status", "cache"}),
		queryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "End-to-end query latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"status"}),
		quotaRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "rejections_total",
			Help:      "Admission rejections by exhausted limit",
		}, []string{"reason"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "tokens_total",
			Help:      "Generation tokens by provider and direction",
		}, []string{"provider", "direction"}),
		cost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "cost_usd_total",
			Help:      "Estimated generation cost in USD",
		}, []string{"provider"}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"stage"}),
		providerRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "retries_total",
			Help:      "Connection-reset retries by provider",
		}, []string{"provider"}),
		ledgerWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "write_failures_total",
			Help:      "Queries that could not be recorded in the ledger",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.queries,
		m.queryLatency,
		m.quotaRejections,
		m.tokens,
		m.cost,
		m.stageLatency,
		m.providerRetries,
		m.ledgerWriteErrors,
	)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) QueryFinished(status domain.QueryStatus, cacheOutcome string, latency time.Duration) {
	m.queries.WithLabelValues(string(status), cacheOutcome).Inc()
	m.queryLatency.WithLabelValues(string(status)).Observe(latency.Seconds())
}

func (m *Metrics) QuotaRejected(reason domain.QuotaReason) {
	m.quotaRejections.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) TokensUsed(provider string, usage domain.TokenUsage, cost float64) {
	m.tokens.WithLabelValues(provider, "input").Add(float64(usage.InputTokens))
	m.tokens.WithLabelValues(provider, "output").Add(float64(usage.OutputTokens))
	if cost > 0 {
		m.cost.WithLabelValues(provider).Add(cost)
	}
}

func (m *Metrics) StageObserved(stage string, d time.Duration) {
	m.stageLatency.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) ProviderRetried(provider string) {
	m.providerRetries.WithLabelValues(provider).Inc()
}

func (m *Metrics) LedgerWriteFailed() {
	m.ledgerWriteErrors.Inc()
}

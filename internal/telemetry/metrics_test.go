package telemetry

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()

	m.QueryFinished(domain.QueryStatusCompleted, "miss", 120*time.Millisecond)
	m.QueryFinished(domain.QueryStatusCompleted, "hit", time.Millisecond)
	m.QueryFinished(domain.QueryStatusCompleted, "hit", time.Millisecond)
	m.QuotaRejected(domain.QuotaReasonTokens)
	m.TokensUsed("openai", domain.TokenUsage{InputTokens: 100, OutputTokens: 20, TotalTokens: 120}, 0.25)
	m.ProviderRetried("openai")
	m.LedgerWriteFailed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.queries.WithLabelValues("completed", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queries.WithLabelValues("completed", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.quotaRejections.WithLabelValues("tokens")))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.tokens.WithLabelValues("openai", "input")))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.tokens.WithLabelValues("openai", "output")))
	assert.Equal(t, 0.25, testutil.ToFloat64(m.cost.WithLabelValues("openai")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.providerRetries.WithLabelValues("openai")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerWriteErrors))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.StageObserved("retrieve", 30*time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.True(t, strings.Contains(string(body), `sercha_rag_pipeline_stage_duration_seconds_count{stage="retrieve"} 1`))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}

func TestSetupTracing_Disabled(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), DefaultTracingConfig())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(0).Description(), "AlwaysOffSampler")
	assert.Contains(t, sampler(0.5).Description(), "TraceIDRatioBased")
}

package services

import (
	"time"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// Pipeline stage names used for latency metrics and spans
const (
	stageQuota    = "quota"
	stageCache    = "cache"
	stageEmbed    = "embed"
	stageRetrieve = "retrieve"
	stageAssemble = "assemble"
	stageGenerate = "generate"
	stageLedger   = "ledger"

	cacheHit    = "hit"
	cacheMiss   = "miss"
	cacheBypass = "bypass"
)

var _ driven.MetricsRecorder = nopMetrics{}

type nopMetrics struct{}

func (nopMetrics) QueryFinished(domain.QueryStatus, string, time.Duration) {}
func (nopMetrics) QuotaRejected(domain.QuotaReason) {}
func (nopMetrics) TokensUsed(string, domain.TokenUsage, float64) {}
func (nopMetrics) StageObserved(string, time.Duration) {}
func (nopMetrics) ProviderRetried(string) {}
func (nopMetrics) LedgerWriteFailed() {}

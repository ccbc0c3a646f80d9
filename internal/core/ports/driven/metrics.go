package driven

import (
	"time"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

// MetricsRecorder receives engine measurements.
// Implementations must be safe for concurrent use and must not block.
type MetricsRecorder interface {
	// QueryFinished records a terminal query with its cache outcome ("hit", "miss", "bypass")
	QueryFinished(status domain.QueryStatus, cacheOutcome string, latency time.Duration)

	// QuotaRejected records an admission rejection
	QuotaRejected(reason domain.QuotaReason)

	// TokensUsed records spent tokens and their estimated cost
	TokensUsed(provider string, usage domain.TokenUsage, cost float64)

	// StageObserved records the duration of one pipeline stage
	StageObserved(stage string, d time.Duration)

	// ProviderRetried records a connection-reset retry
	ProviderRetried(provider string)

	// LedgerWriteFailed records a dropped ledger write
	LedgerWriteFailed()
}

package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// DefaultLedgerWriteTimeout bounds a ledger write after the response is ready
const DefaultLedgerWriteTimeout = 5 * time.Second

// QueryLedger records queries on a best-effort basis: a failed write is
// logged and reported, never returned to the caller as an error.
type QueryLedger struct {
	store   driven.LedgerStore
	timeout time.Duration
	metrics driven.MetricsRecorder
	logger  *slog.Logger
}

// NewQueryLedger creates a new ledger writer
func NewQueryLedger(store driven.LedgerStore, metrics driven.MetricsRecorder, logger *slog.Logger) *QueryLedger {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &QueryLedger{
		store:   store,
		timeout: DefaultLedgerWriteTimeout,
		metrics: metrics,
		logger:  logger,
	}
}

// Record appends q and its result. It runs detached from ctx's
// cancellation, so a disconnected client does not lose its record.
// It returns false when the write failed.
func (l *QueryLedger) Record(ctx context.Context, q *domain.Query, result *domain.QueryResult) bool {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	if err := l.store.Append(writeCtx, q, result); err != nil {
		l.metrics.LedgerWriteFailed()
		l.logger.Error("ledger write failed",
			"tenant_id", q.TenantID,
			"query_id", q.ID,
			"status", result.Status,
			"error", err)
		return false
	}
	return true
}

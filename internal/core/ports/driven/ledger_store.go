package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

// LedgerStore is the append-only query ledger.
// All reads are scoped by tenant ID; a query of another tenant is ErrNotFound.
type LedgerStore interface {
	// Append records a query and its result in one transaction
	Append(ctx context.Context, query *domain.Query, result *domain.QueryResult) error

	// Get retrieves one entry with its latest feedback
	Get(ctx context.Context, tenantID, queryID string) (*domain.LedgerEntry, error)

	// History lists entries newest first and returns the total count
	History(ctx context.Context, tenantID string, filter domain.HistoryFilter) ([]*domain.LedgerEntry, int, error)

	// AddFeedback appends a rating; the latest one wins on read
	AddFeedback(ctx context.Context, feedback *domain.Feedback) error

	// Analytics aggregates entries created since the given time
	Analytics(ctx context.Context, tenantID string, since, today time.Time) (*domain.AnalyticsSummary, error)
}

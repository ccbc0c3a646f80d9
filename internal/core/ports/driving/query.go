package driving

import (
	"context"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

// QueryService is the retrieval-and-generation engine.
// Every operation requires a resolved TenantContext.
type QueryService interface {
	// Submit runs the full pipeline and returns the complete result
	Submit(ctx context.Context, tc domain.TenantContext, req domain.QueryRequest) (*domain.QueryResult, error)

	// Stream runs the pipeline up to generation and returns the answer
	// as incremental frames. Errors before generation starts are
	// returned directly; later ones arrive as an error frame.
	Stream(ctx context.Context, tc domain.TenantContext, req domain.QueryRequest) (*domain.AnswerStream, error)

	// Search embeds the text and returns the tenant's best matching
	// chunks without generating an answer. Counts against quota.
	Search(ctx context.Context, tc domain.TenantContext, req domain.SearchRequest) (*domain.SearchResult, error)

	// History lists the tenant's ledger entries, newest first
	History(ctx context.Context, tc domain.TenantContext, filter domain.HistoryFilter) ([]*domain.LedgerEntry, int, error)

	// Get retrieves one ledger entry of the tenant
	Get(ctx context.Context, tc domain.TenantContext, queryID string) (*domain.LedgerEntry, error)

	// SubmitFeedback rates an answer
	SubmitFeedback(ctx context.Context, tc domain.TenantContext, queryID string, rating int, comment string) (*domain.Feedback, error)

	// Analytics summarizes the tenant's last days of usage
	Analytics(ctx context.Context, tc domain.TenantContext, days int) (*domain.AnalyticsSummary, error)

	// Usage returns the tenant's current quota counter
	Usage(ctx context.Context, tc domain.TenantContext) (*domain.QuotaCounter, error)
}

// CacheAdmin controls the response cache
type CacheAdmin interface {
	// InvalidateTenant drops the tenant's cached answers.
	// Called when the tenant's document set changes.
	InvalidateTenant(ctx context.Context, tc domain.TenantContext) (int, error)
}

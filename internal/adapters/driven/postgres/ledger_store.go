package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.LedgerStore = (*LedgerStore)(nil)

// pq error code for unique_violation
const uniqueViolation = "23505"

// LedgerStore implements driven.LedgerStore using PostgreSQL.
// Query rows are insert-only; feedback lives in its own table.
type LedgerStore struct {
	db *DB
}

// NewLedgerStore creates a new LedgerStore
func NewLedgerStore(db *DB) *LedgerStore {
	return &LedgerStore{db: db}
}

const ledgerColumns = `
	q.id, q.tenant_id, q.user_id, q.session_id, q.turn, q.query_text, q.normalized_text, q.params, q.streaming,
	q.answer, q.fragments, q.status, q.provider, q.model, q.input_tokens, q.output_tokens, q.total_tokens,
	q.estimated_cost, q.latency_ns, q.cache_hit, q.error_kind, q.error_message, q.warnings, q.created_at, q.completed_at,
	f.user_id, f.rating, f.comment, f.created_at`

const latestFeedbackJoin = `
	LEFT JOIN LATERAL (
		SELECT user_id, rating, comment, created_at
		FROM query_feedback
		WHERE query_id = q.id
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	) f ON TRUE`

// Append records a query and its result
func (s *LedgerStore) Append(ctx context.Context, query *domain.Query, result *domain.QueryResult) error {
	params, err := json.Marshal(query.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	fragments, err := json.Marshal(nonNil(result.Fragments))
	if err != nil {
		return fmt.Errorf("marshal fragments: %w", err)
	}
	warnings, err := json.Marshal(nonNil(result.Warnings))
	if err != nil {
		return fmt.Errorf("marshal warnings: %w", err)
	}
	provider := result.Provider
	if provider == "" {
		provider = query.Params.Provider
	}

	stmt := `
		INSERT INTO queries (id, tenant_id, user_id, session_id, turn, query_text, normalized_text, params, streaming,
			answer, fragments, status, provider, model, input_tokens, output_tokens, total_tokens,
			estimated_cost, latency_ns, cache_hit, error_kind, error_message, warnings, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
	`
	_, err = s.db.ExecContext(ctx, stmt,
		query.ID,
		query.TenantID,
		query.UserID,
		query.SessionID,
		query.Turn,
		query.Text,
		query.NormalizedText,
		params,
		query.Streaming,
		result.Answer,
		fragments,
		string(result.Status),
		provider,
		result.Model,
		result.Usage.InputTokens,
		result.Usage.OutputTokens,
		result.Usage.TotalTokens,
		result.EstimatedCost,
		int64(result.Latency),
		result.CacheHit,
		string(result.ErrorKind),
		result.ErrorMessage,
		warnings,
		query.CreatedAt,
		result.CompletedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: query %s already recorded", domain.ErrInvalidInput, query.ID)
	}
	return err
}

// Get retrieves one entry of the tenant with its latest feedback
func (s *LedgerStore) Get(ctx context.Context, tenantID, queryID string) (*domain.LedgerEntry, error) {
	query := `SELECT` + ledgerColumns + `
		FROM queries q` + latestFeedbackJoin + `
		WHERE q.id = $1 AND q.tenant_id = $2
	`

	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, queryID, tenantID))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// History lists the tenant's entries newest first with the total count
func (s *LedgerStore) History(ctx context.Context, tenantID string, filter domain.HistoryFilter) ([]*domain.LedgerEntry, int, error) {
	where := `
		WHERE q.tenant_id = $1
			AND ($2 = '' OR q.user_id = $2)
			AND ($3 = '' OR q.session_id = $3)
	`

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queries q`+where,
		tenantID, filter.UserID, filter.SessionID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := sql.NullInt64{Int64: int64(filter.Limit), Valid: filter.Limit > 0}
	query := `SELECT` + ledgerColumns + `
		FROM queries q` + latestFeedbackJoin + where + `
		ORDER BY q.created_at DESC, q.id DESC
		LIMIT $4 OFFSET $5
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID, filter.UserID, filter.SessionID, limit, filter.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries := []*domain.LedgerEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, entry)
	}
	return entries, total, rows.Err()
}

// AddFeedback appends a rating for a query of the same tenant
func (s *LedgerStore) AddFeedback(ctx context.Context, feedback *domain.Feedback) error {
	stmt := `
		INSERT INTO query_feedback (query_id, tenant_id, user_id, rating, comment, created_at)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE EXISTS (SELECT 1 FROM queries WHERE id = $1 AND tenant_id = $2)
	`
	res, err := s.db.ExecContext(ctx, stmt,
		feedback.QueryID,
		feedback.TenantID,
		feedback.UserID,
		feedback.Rating,
		feedback.Comment,
		feedback.CreatedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Analytics aggregates the tenant's entries created since the given time
func (s *LedgerStore) Analytics(ctx context.Context, tenantID string, since, today time.Time) (*domain.AnalyticsSummary, error) {
	summary := &domain.AnalyticsSummary{
		RatingDistribution: make(map[int]int),
		ProviderBreakdown:  make(map[string]int),
	}

	totals := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE created_at >= $3),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'partial'),
			COUNT(*) FILTER (WHERE cache_hit),
			COALESCE(AVG(latency_ns), 0),
			COALESCE(AVG(total_tokens), 0),
			COALESCE(SUM(estimated_cost), 0)
		FROM queries
		WHERE tenant_id = $1 AND created_at >= $2
	`
	var avgLatencyNs float64
	err := s.db.QueryRowContext(ctx, totals, tenantID, since, today).Scan(
		&summary.TotalQueries,
		&summary.QueriesToday,
		&summary.CompletedQueries,
		&summary.FailedQueries,
		&summary.PartialQueries,
		&summary.CacheHits,
		&avgLatencyNs,
		&summary.AvgTotalTokens,
		&summary.TotalCost,
	)
	if err != nil {
		return nil, fmt.Errorf("analytics totals: %w", err)
	}
	summary.AvgLatencyMs = avgLatencyNs / float64(time.Millisecond)

	ratings := `
		SELECT f.rating, COUNT(*)
		FROM (
			SELECT DISTINCT ON (query_id) query_id, rating
			FROM query_feedback
			WHERE tenant_id = $1
			ORDER BY query_id, created_at DESC, id DESC
		) f
		JOIN queries q ON q.id = f.query_id
		WHERE q.tenant_id = $1 AND q.created_at >= $2
		GROUP BY f.rating
	`
	if err := s.scanCounts(ctx, ratings, tenantID, since, func(rows *sql.Rows) error {
		var rating, n int
		if err := rows.Scan(&rating, &n); err != nil {
			return err
		}
		summary.RatingDistribution[rating] = n
		return nil
	}); err != nil {
		return nil, fmt.Errorf("analytics ratings: %w", err)
	}

	providers := `
		SELECT provider, COUNT(*)
		FROM queries
		WHERE tenant_id = $1 AND created_at >= $2
		GROUP BY provider
	`
	if err := s.scanCounts(ctx, providers, tenantID, since, func(rows *sql.Rows) error {
		var provider string
		var n int
		if err := rows.Scan(&provider, &n); err != nil {
			return err
		}
		summary.ProviderBreakdown[provider] = n
		return nil
	}); err != nil {
		return nil, fmt.Errorf("analytics providers: %w", err)
	}

	return summary, nil
}

func (s *LedgerStore) scanCounts(ctx context.Context, query, tenantID string, since time.Time, scan func(*sql.Rows) error) error {
	rows, err := s.db.QueryContext(ctx, query, tenantID, since)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*domain.LedgerEntry, error) {
	var q domain.Query
	var r domain.QueryResult
	var params, fragments, warnings []byte
	var status, errorKind string
	var latencyNs int64
	var fbUser, fbComment sql.NullString
	var fbRating sql.NullInt64
	var fbCreated sql.NullTime

	err := row.Scan(
		&q.ID,
		&q.TenantID,
		&q.UserID,
		&q.SessionID,
		&q.Turn,
		&q.Text,
		&q.NormalizedText,
		&params,
		&q.Streaming,
		&r.Answer,
		&fragments,
		&status,
		&r.Provider,
		&r.Model,
		&r.Usage.InputTokens,
		&r.Usage.OutputTokens,
		&r.Usage.TotalTokens,
		&r.EstimatedCost,
		&latencyNs,
		&r.CacheHit,
		&errorKind,
		&r.ErrorMessage,
		&warnings,
		&q.CreatedAt,
		&r.CompletedAt,
		&fbUser,
		&fbRating,
		&fbComment,
		&fbCreated,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(params, &q.Params); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	if err := json.Unmarshal(fragments, &r.Fragments); err != nil {
		return nil, fmt.Errorf("unmarshal fragments: %w", err)
	}
	if err := json.Unmarshal(warnings, &r.Warnings); err != nil {
		return nil, fmt.Errorf("unmarshal warnings: %w", err)
	}
	r.ID = q.ID
	r.Status = domain.QueryStatus(status)
	r.ErrorKind = domain.ErrorKind(errorKind)
	r.Latency = time.Duration(latencyNs)

	entry := &domain.LedgerEntry{Query: &q, Result: &r}
	if fbRating.Valid {
		entry.Feedback = &domain.Feedback{
			QueryID:   q.ID,
			TenantID:  q.TenantID,
			UserID:    fbUser.String,
			Rating:    int(fbRating.Int64),
			Comment:   fbComment.String,
			CreatedAt: fbCreated.Time,
		}
	}
	return entry, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

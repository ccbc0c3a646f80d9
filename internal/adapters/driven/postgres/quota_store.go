package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.QuotaStore = (*QuotaStore)(nil)

// QuotaStore keeps sliding-window counters in PostgreSQL.
// Each operation locks the tenant's row with SELECT ... FOR UPDATE, so
// check and increment are one critical section across replicas.
type QuotaStore struct {
	db  *DB
	now func() time.Time
}

// NewQuotaStore creates a new QuotaStore
func NewQuotaStore(db *DB) *QuotaStore {
	return &QuotaStore{db: db, now: time.Now}
}

// WithClock replaces the time source (tests)
func (s *QuotaStore) WithClock(now func() time.Time) *QuotaStore {
	s.now = now
	return s
}

// Admit checks and reserves quota for one query
func (s *QuotaStore) Admit(ctx context.Context, tenantID string, limits domain.QuotaLimits, estimatedTokens int64) (domain.QuotaDecision, error) {
	var decision domain.QuotaDecision
	err := s.withCounter(ctx, tenantID, limits.Window, func(c *domain.QuotaCounter) {
		decision = c.Admit(s.now(), limits, estimatedTokens)
	})
	return decision, err
}

// Reconcile applies a token delta to the tenant's counter
func (s *QuotaStore) Reconcile(ctx context.Context, tenantID string, limits domain.QuotaLimits, deltaTokens int64) error {
	return s.withCounter(ctx, tenantID, limits.Window, func(c *domain.QuotaCounter) {
		c.Reconcile(s.now(), deltaTokens)
	})
}

// Usage returns the tenant's counter rolled to now
func (s *QuotaStore) Usage(ctx context.Context, tenantID string, limits domain.QuotaLimits) (*domain.QuotaCounter, error) {
	var snapshot domain.QuotaCounter
	err := s.withCounter(ctx, tenantID, limits.Window, func(c *domain.QuotaCounter) {
		c.Roll(s.now())
		snapshot = *c
	})
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// withCounter loads the tenant's counter under a row lock, applies fn
// and writes the result back in the same transaction.
func (s *QuotaStore) withCounter(ctx context.Context, tenantID string, window time.Duration, fn func(*domain.QuotaCounter)) error {
	if window <= 0 {
		window = domain.DefaultQuotaWindow
	}
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO quota_counters (tenant_id, window_ns, window_start)
			VALUES ($1, $2, $3)
			ON CONFLICT (tenant_id) DO NOTHING
		`, tenantID, int64(window), s.now().Truncate(window)); err != nil {
			return err
		}

		c := domain.QuotaCounter{TenantID: tenantID}
		var windowNs int64
		err := tx.QueryRowContext(ctx, `
			SELECT window_ns, window_start, queries, tokens, prev_queries, prev_tokens
			FROM quota_counters
			WHERE tenant_id = $1
			FOR UPDATE
		`, tenantID).Scan(&windowNs, &c.WindowStart, &c.Queries, &c.Tokens, &c.PrevQueries, &c.PrevTokens)
		if err != nil {
			return err
		}
		c.Window = window
		if time.Duration(windowNs) != window {
			// Window length changed; counts from the old layout no longer line up.
			c = domain.QuotaCounter{TenantID: tenantID, Window: window}
		}

		fn(&c)

		_, err = tx.ExecContext(ctx, `
			UPDATE quota_counters
			SET window_ns = $2, window_start = $3, queries = $4, tokens = $5, prev_queries = $6, prev_tokens = $7
			WHERE tenant_id = $1
		`, tenantID, int64(c.Window), c.WindowStart, c.Queries, c.Tokens, c.PrevQueries, c.PrevTokens)
		return err
	})
}

package domain

import (
	"math"
	"time"
)

// DefaultQuotaWindow is the length of a tenant's quota window
const DefaultQuotaWindow = 24 * time.Hour

// QuotaLimits are the limits applied to one admission. Zero means unlimited.
type QuotaLimits struct {
	Window     time.Duration
	MaxQueries int64
	MaxTokens  int64
}

// LimitsFor derives admission limits from a tenant's quota configuration
func LimitsFor(q QuotaConfig, window time.Duration) QuotaLimits {
	if window <= 0 {
		window = DefaultQuotaWindow
	}
	scale := float64(window) / float64(DefaultQuotaWindow)
	limits := QuotaLimits{Window: window}
	if q.MaxQueriesPerDay > 0 {
		limits.MaxQueries = max(1, int64(math.Round(float64(q.MaxQueriesPerDay)*scale)))
	}
	if q.MaxTokensPerDay > 0 {
		limits.MaxTokens = max(1, int64(math.Round(float64(q.MaxTokensPerDay)*scale)))
	}
	return limits
}

// QuotaReason names the exhausted limit
type QuotaReason string

const (
	QuotaReasonQueries QuotaReason = "queries"
	QuotaReasonTokens  QuotaReason = "tokens"
)

// QuotaDecision is the outcome of an admission
type QuotaDecision struct {
	Allowed    bool
	Reason     QuotaReason
	RetryAfter time.Duration
}

// QuotaCounter is a sliding-window counter for one tenant.
// The window is approximated from the current fixed window plus the
// previous one, weighted by how much of it still overlaps.
type QuotaCounter struct {
	TenantID    string    `json:"tenant_id"`
	WindowStart time.Time `json:"window_start"`
	Window      time.Duration
	Queries     int64 `json:"queries"`
	Tokens      int64 `json:"tokens"`
	PrevQueries int64 `json:"prev_queries"`
	PrevTokens  int64 `json:"prev_tokens"`
}

// Roll advances the counter to the window containing now.
func (c *QuotaCounter) Roll(now time.Time) {
	if c.Window <= 0 {
		c.Window = DefaultQuotaWindow
	}
	current := now.Truncate(c.Window)
	if c.WindowStart.IsZero() || c.WindowStart.After(current) {
		c.WindowStart = current
		return
	}
	switch elapsed := current.Sub(c.WindowStart); {
	case elapsed <= 0:
	case elapsed == c.Window:
		c.PrevQueries, c.PrevTokens = c.Queries, c.Tokens
		c.Queries, c.Tokens = 0, 0
		c.WindowStart = current
	default:
		c.PrevQueries, c.PrevTokens = 0, 0
		c.Queries, c.Tokens = 0, 0
		c.WindowStart = current
	}
}

// prevWeight is the share of the previous window still inside the sliding window
func (c *QuotaCounter) prevWeight(now time.Time) float64 {
	elapsed := now.Sub(c.WindowStart)
	w := 1 - float64(elapsed)/float64(c.Window)
	return math.Max(0, math.Min(1, w))
}

// UsedQueries is the sliding-window query count at now
func (c *QuotaCounter) UsedQueries(now time.Time) float64 {
	return float64(c.PrevQueries)*c.prevWeight(now) + float64(c.Queries)
}

// UsedTokens is the sliding-window token count at now
func (c *QuotaCounter) UsedTokens(now time.Time) float64 {
	return float64(c.PrevTokens)*c.prevWeight(now) + float64(c.Tokens)
}

// Admit checks both limits and, if admitted, reserves one query and
// estimatedTokens. A rejection leaves the counter unchanged apart
// from window rollover.
func (c *QuotaCounter) Admit(now time.Time, limits QuotaLimits, estimatedTokens int64) QuotaDecision {
	if limits.Window > 0 {
		c.Window = limits.Window
	}
	c.Roll(now)
	retryAfter := c.WindowStart.Add(c.Window).Sub(now)

	if limits.MaxQueries > 0 && c.UsedQueries(now)+1 > float64(limits.MaxQueries) {
		return QuotaDecision{Reason: QuotaReasonQueries, RetryAfter: retryAfter}
	}
	if limits.MaxTokens > 0 {
		used := c.UsedTokens(now)
		// Hard ceiling: reconciliation may have pushed usage past the limit.
		if used >= float64(limits.MaxTokens) || used+float64(estimatedTokens) > float64(limits.MaxTokens) {
			return QuotaDecision{Reason: QuotaReasonTokens, RetryAfter: retryAfter}
		}
	}

	c.Queries++
	c.Tokens += estimatedTokens
	return QuotaDecision{Allowed: true}
}

// Reconcile applies the difference between actual and estimated tokens.
func (c *QuotaCounter) Reconcile(now time.Time, deltaTokens int64) {
	c.Roll(now)
	c.Tokens += deltaTokens
	if c.Tokens < 0 {
		c.Tokens = 0
	}
}

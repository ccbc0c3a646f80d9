package domain

import (
	"testing"
	"time"
)

var quotaEpoch = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func TestLimitsFor(t *testing.T) {
	q := QuotaConfig{MaxQueriesPerDay: 100, MaxTokensPerDay: 48000}

	daily := LimitsFor(q, 0)
	if daily.Window != DefaultQuotaWindow || daily.MaxQueries != 100 || daily.MaxTokens != 48000 {
		t.Errorf("unexpected daily limits: %+v", daily)
	}

	hourly := LimitsFor(q, time.Hour)
	if hourly.MaxQueries != 4 || hourly.MaxTokens != 2000 {
		t.Errorf("unexpected hourly limits: %+v", hourly)
	}

	tiny := LimitsFor(QuotaConfig{MaxQueriesPerDay: 1}, time.Minute)
	if tiny.MaxQueries != 1 {
		t.Errorf("scaled limits never drop below 1, got %d", tiny.MaxQueries)
	}

	if unlimited := LimitsFor(QuotaConfig{}, time.Hour); unlimited.MaxQueries != 0 || unlimited.MaxTokens != 0 {
		t.Errorf("zero config should stay unlimited: %+v", unlimited)
	}
}

func TestQuotaCounter_QueryLimit(t *testing.T) {
	c := &QuotaCounter{TenantID: "t1"}
	limits := QuotaLimits{Window: DefaultQuotaWindow, MaxQueries: 2}
	now := quotaEpoch.Add(time.Hour)

	for i := 0; i < 2; i++ {
		if d := c.Admit(now, limits, 0); !d.Allowed {
			t.Fatalf("query %d should be admitted", i+1)
		}
	}
	d := c.Admit(now, limits, 0)
	if d.Allowed || d.Reason != QuotaReasonQueries {
		t.Fatalf("expected query rejection, got %+v", d)
	}
	if d.RetryAfter != 23*time.Hour {
		t.Errorf("RetryAfter = %v, want 23h", d.RetryAfter)
	}
	if c.Queries != 2 {
		t.Errorf("rejection must not count, queries = %d", c.Queries)
	}
}

func TestQuotaCounter_TokenLimit(t *testing.T) {
	c := &QuotaCounter{}
	limits := QuotaLimits{Window: DefaultQuotaWindow, MaxTokens: 1000}
	now := quotaEpoch

	if d := c.Admit(now, limits, 600); !d.Allowed {
		t.Fatal("first admission should pass")
	}
	if d := c.Admit(now, limits, 600); d.Allowed || d.Reason != QuotaReasonTokens {
		t.Fatalf("estimate over the limit should be rejected, got %+v", d)
	}

	// Actual usage came in higher than estimated
	c.Reconcile(now, 500)
	if c.Tokens != 1100 {
		t.Fatalf("Tokens = %d, want 1100", c.Tokens)
	}
	if d := c.Admit(now, limits, 0); d.Allowed {
		t.Error("usage at or past the ceiling rejects even zero estimates")
	}
}

func TestQuotaCounter_ReconcileClampsAtZero(t *testing.T) {
	c := &QuotaCounter{}
	c.Admit(quotaEpoch, QuotaLimits{Window: time.Hour}, 100)
	c.Reconcile(quotaEpoch, -250)
	if c.Tokens != 0 {
		t.Errorf("Tokens = %d, want 0", c.Tokens)
	}
}

func TestQuotaCounter_RefundAfterRollover(t *testing.T) {
	c := &QuotaCounter{}
	limits := QuotaLimits{Window: time.Hour}
	c.Admit(quotaEpoch.Add(59*time.Minute), limits, 1000)

	// The query finishes in the next window having used 200 tokens
	c.Reconcile(quotaEpoch.Add(61*time.Minute), -800)
	if c.Tokens != 0 {
		t.Errorf("Tokens = %d, want 0: the refund is clipped in the new window", c.Tokens)
	}
	if c.PrevTokens != 1000 {
		t.Errorf("PrevTokens = %d, want the full reservation", c.PrevTokens)
	}
	// The unrefunded reservation decays with the previous window's weight
	if got := c.UsedTokens(quotaEpoch.Add(90 * time.Minute)); got != 500 {
		t.Errorf("UsedTokens = %v, want 500", got)
	}
	if got := c.UsedTokens(quotaEpoch.Add(120 * time.Minute)); got != 0 {
		t.Errorf("UsedTokens = %v, want 0 once the window has passed", got)
	}
}

func TestQuotaCounter_SlidingWindow(t *testing.T) {
	c := &QuotaCounter{}
	limits := QuotaLimits{Window: time.Hour, MaxQueries: 10}

	for i := 0; i < 10; i++ {
		c.Admit(quotaEpoch.Add(50*time.Minute), limits, 0)
	}

	// A quarter into the next window, 75% of the previous one still counts
	next := quotaEpoch.Add(75 * time.Minute)
	c.Roll(next)
	if c.PrevQueries != 10 || c.Queries != 0 {
		t.Fatalf("unexpected roll: %+v", c)
	}
	if got := c.UsedQueries(next); got != 7.5 {
		t.Errorf("UsedQueries = %v, want 7.5", got)
	}
	admitted := 0
	for c.Admit(next, limits, 0).Allowed {
		admitted++
	}
	if admitted != 2 {
		t.Errorf("admitted %d, want 2", admitted)
	}

	// Two windows later nothing carries over
	later := quotaEpoch.Add(3 * time.Hour)
	c.Roll(later)
	if c.PrevQueries != 0 || c.Queries != 0 {
		t.Errorf("stale windows should reset: %+v", c)
	}
}

package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// QuotaController admits or rejects requests against a tenant's
// sliding-window limits before any paid work starts.
type QuotaController struct {
	store   driven.QuotaStore
	window  time.Duration
	metrics driven.MetricsRecorder
	logger  *slog.Logger
}

// QuotaControllerConfig holds configuration for the quota controller.
type QuotaControllerConfig struct {
	Store   driven.QuotaStore
	Window  time.Duration // Length of the quota window (default: 24h)
	Metrics driven.MetricsRecorder
	Logger  *slog.Logger
}

// NewQuotaController creates a new quota controller
func NewQuotaController(cfg QuotaControllerConfig) *QuotaController {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	window := cfg.Window
	if window <= 0 {
		window = domain.DefaultQuotaWindow
	}
	var metrics driven.MetricsRecorder = nopMetrics{}
	if cfg.Metrics != nil {
		metrics = cfg.Metrics
	}
	return &QuotaController{store: cfg.Store, window: window, metrics: metrics, logger: logger}
}

// Limits returns the limits applied to tc
func (c *QuotaController) Limits(tc domain.TenantContext) domain.QuotaLimits {
	return domain.LimitsFor(tc.Quota(), c.window)
}

// Admit reserves one query and estimatedTokens for tc.
// A rejection is returned as a RateLimited error with a retry-after hint.
func (c *QuotaController) Admit(ctx context.Context, tc domain.TenantContext, estimatedTokens int) error {
	decision, err := c.store.Admit(ctx, tc.TenantID(), c.Limits(tc), int64(estimatedTokens))
	if err != nil {
		return fmt.Errorf("quota admission: %w", err)
	}
	if !decision.Allowed {
		c.metrics.QuotaRejected(decision.Reason)
		c.logger.Info("quota rejected",
			"tenant_id", tc.TenantID(),
			"reason", decision.Reason,
			"retry_after", decision.RetryAfter)
		return domain.RateLimitedError(string(decision.Reason), decision.RetryAfter)
	}
	return nil
}

// Reconcile corrects the token reservation once the actual count is known.
// Failures are logged: the answer has already been produced.
func (c *QuotaController) Reconcile(ctx context.Context, tc domain.TenantContext, estimatedTokens, actualTokens int) {
	delta := int64(actualTokens - estimatedTokens)
	if delta == 0 {
		return
	}
	if err := c.store.Reconcile(ctx, tc.TenantID(), c.Limits(tc), delta); err != nil {
		c.logger.Warn("quota reconcile failed", "tenant_id", tc.TenantID(), "delta", delta, "error", err)
	}
}

// Usage returns the tenant's current counter
func (c *QuotaController) Usage(ctx context.Context, tc domain.TenantContext) (*domain.QuotaCounter, error) {
	return c.store.Usage(ctx, tc.TenantID(), c.Limits(tc))
}

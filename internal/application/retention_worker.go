package application

import (
	"context"
	"time"

	"github.com/turtacn/riskguard/internal/config"
	"github.com/turtacn/riskguard/internal/domain/repository"
	"github.com/turtacn/riskguard/internal/domain/service"
	"github.com/turtacn/riskguard/pkg/logger"
)

// RetentionWorker periodically deletes assessment records older than the configured age.
// RetentionWorker 定期删除超过保留期限的评估记录。
type RetentionWorker struct {
	assessments repository.RiskAssessmentRepository
	interval    time.Duration
	maxAge      time.Duration
	metrics     service.Metrics
	logger      logger.Logger
	now         func() time.Time
}

// NewRetentionWorker creates a worker from the retention configuration.
func NewRetentionWorker(assessments repository.RiskAssessmentRepository, cfg config.RetentionConfig,
	metrics service.Metrics, log logger.Logger) *RetentionWorker {
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	return &RetentionWorker{
		assessments: assessments,
		interval:    interval,
		maxAge:      cfg.MaxAge,
		metrics:     metrics,
		logger:      log.WithComponent("RetentionWorker"),
		now:         time.Now,
	}
}

// Run sweeps once immediately and then on every tick until ctx is cancelled.
func (w *RetentionWorker) Run(ctx context.Context) {
	if w.maxAge <= 0 {
		w.logger.Info(ctx, "Retention disabled, max_age is not positive")
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info(ctx, "Retention worker started",
		logger.Duration("interval", w.interval), logger.Duration("max_age", w.maxAge))
	_, _ = w.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info(context.Background(), "Retention worker stopped")
			return
		case <-ticker.C:
			_, _ = w.Sweep(ctx)
		}
	}
}

// Sweep deletes expired records once and returns how many were removed.
func (w *RetentionWorker) Sweep(ctx context.Context) (int64, error) {
	cutoff := w.now().UTC().Add(-w.maxAge)
	n, err := w.assessments.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error(ctx, "Retention sweep failed", err, logger.Time("cutoff", cutoff))
		}
		return 0, err
	}
	w.metrics.RecordRetentionPurge(n)
	if n > 0 {
		w.logger.Info(ctx, "Expired risk assessments deleted", logger.Int64("deleted", n), logger.Time("cutoff", cutoff))
	}
	return n, nil
}

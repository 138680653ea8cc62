package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/clinic-records/pkg/logger"
)

type AuditCleaner interface {
	Cleanup(ctx context.Context, before time.Time) (int64, error)
}

// AuditCleanupWorker deletes audit entries older than the retention window.
type AuditCleanupWorker struct {
	cleaner         AuditCleaner
	retentionDays   int
	cleanupInterval time.Duration
	logger          *logger.Logger
	now             func() time.Time
}

func NewAuditCleanupWorker(cleaner AuditCleaner, retentionDays int, cleanupInterval time.Duration, logger *logger.Logger) *AuditCleanupWorker {
	return &AuditCleanupWorker{
		cleaner:         cleaner,
		retentionDays:   retentionDays,
		cleanupInterval: cleanupInterval,
		logger:          logger,
		now:             time.Now,
	}
}

// Start returns immediately when retention is disabled.
func (w *AuditCleanupWorker) Start(ctx context.Context) {
	if w.retentionDays <= 0 || w.cleanupInterval <= 0 {
		w.logger.Info("Audit cleanup disabled")
		return
	}

	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Cleanup(ctx); err != nil {
				w.logger.Error(err, "Error cleaning up audit logs")
			}
		}
	}
}

func (w *AuditCleanupWorker) Cleanup(ctx context.Context) (int64, error) {
	cutoff := w.now().AddDate(0, 0, -w.retentionDays)

	rows, err := w.cleaner.Cleanup(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup audit logs: %w", err)
	}

	w.logger.Info("Cleaned up audit logs", "deleted", rows, "before", cutoff.Format(time.RFC3339))
	return rows, nil
}

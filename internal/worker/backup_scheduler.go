package worker

import (
	"context"
	"sync"
	"time"

	"github.com/jwalitptl/clinic-records/internal/model"
	"github.com/jwalitptl/clinic-records/pkg/logger"
)

type BackupRunner interface {
	PerformBackup(ctx context.Context) (*model.BackupResult, error)
	PruneOldBackups(ctx context.Context) (*model.RetentionResult, error)
}

// BackupSchedulerConfig holds wall-clock offsets from midnight in Location.
type BackupSchedulerConfig struct {
	DailyAt          time.Duration
	CleanupAt        time.Duration
	RealtimeInterval time.Duration
	Location         *time.Location
}

// BackupScheduler runs the daily backup, the daily retention cleanup and,
// when RealtimeInterval is positive, a periodic backup.
type BackupScheduler struct {
	runner BackupRunner
	config BackupSchedulerConfig
	logger *logger.Logger
	now    func() time.Time
}

func NewBackupScheduler(runner BackupRunner, config BackupSchedulerConfig, logger *logger.Logger) *BackupScheduler {
	if config.Location == nil {
		config.Location = time.Local
	}
	return &BackupScheduler{
		runner: runner,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// Start blocks until ctx is cancelled and every job has returned.
func (s *BackupScheduler) Start(ctx context.Context) {
	s.logger.Info("Starting backup scheduler",
		"daily_at", s.config.DailyAt.String(),
		"cleanup_at", s.config.CleanupAt.String(),
		"realtime_interval", s.config.RealtimeInterval.String(),
	)

	var wg sync.WaitGroup
	run := func(loop func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loop(ctx)
		}()
	}

	run(func(ctx context.Context) { s.daily(ctx, "daily_backup", s.config.DailyAt, s.backup) })
	run(func(ctx context.Context) { s.daily(ctx, "retention_cleanup", s.config.CleanupAt, s.prune) })
	if s.config.RealtimeInterval > 0 {
		run(func(ctx context.Context) { s.every(ctx, s.config.RealtimeInterval, s.backup) })
	}

	wg.Wait()
	s.logger.Info("Shutting down backup scheduler")
}

func (s *BackupScheduler) daily(ctx context.Context, name string, at time.Duration, job func(context.Context)) {
	for {
		next := NextDailyRun(s.now(), at, s.config.Location)
		s.logger.Debug("Scheduled job", "job", name, "next_run", next.Format(time.RFC3339))

		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			job(ctx)
		}
	}
}

func (s *BackupScheduler) every(ctx context.Context, interval time.Duration, job func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job(ctx)
		}
	}
}

// Failures are already logged and notified by the backup service.
func (s *BackupScheduler) backup(ctx context.Context) {
	if result, err := s.runner.PerformBackup(ctx); err == nil {
		s.logger.Info("Scheduled backup stored", "key", result.Filename)
	}
}

func (s *BackupScheduler) prune(ctx context.Context) {
	if _, err := s.runner.PruneOldBackups(ctx); err != nil {
		s.logger.Error(err, "Scheduled retention cleanup failed")
	}
}

// NextDailyRun returns the first instant strictly after now that falls at
// offset past midnight in loc.
func NextDailyRun(now time.Time, offset time.Duration, loc *time.Location) time.Time {
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	next := midnight.Add(offset)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc).Add(offset)
	}
	return next
}

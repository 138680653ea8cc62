package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-records/internal/app"
	"github.com/jwalitptl/clinic-records/internal/config"
	"github.com/jwalitptl/clinic-records/internal/handler/health"
	"github.com/jwalitptl/clinic-records/internal/worker"
	"github.com/jwalitptl/clinic-records/pkg/logger"
)

const healthAddr = ":8081"

func setupHealthCheck(db health.Pinger, log *logger.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	health.NewHandler(db).RegisterRoutes(engine.Group(""))

	srv := &http.Server{
		Addr:              healthAddr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err, "Health check server failed")
		}
	}()
	return srv
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(&logger.Config{
		Level: logger.ParseLevel(cfg.Log.Level),
		JSON:  cfg.Log.JSON,
	}).WithFields(map[string]interface{}{"component": "worker"})

	a, err := app.New(cfg, log, "worker")
	if err != nil {
		log.Fatal(err, "Failed to initialize application")
	}
	defer a.Close()

	// Validate has already parsed both clocks.
	dailyAt, _ := config.ParseClock(cfg.Backup.DailyTime)
	cleanupAt, _ := config.ParseClock(cfg.Backup.CleanupTime)

	scheduler := worker.NewBackupScheduler(a.Backups, worker.BackupSchedulerConfig{
		DailyAt:          dailyAt,
		CleanupAt:        cleanupAt,
		RealtimeInterval: cfg.Backup.RealtimeInterval,
		Location:         time.Local,
	}, log)
	auditCleanup := worker.NewAuditCleanupWorker(a.Audit, cfg.Audit.RetentionDays, cfg.Audit.CleanupInterval, log)

	healthSrv := setupHealthCheck(a.DB, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Shutting down...")
		cancel()
	}()

	var wg sync.WaitGroup
	for _, start := range []func(context.Context){scheduler.Start, auditCleanup.Start} {
		wg.Add(1)
		go func(start func(context.Context)) {
			defer wg.Done()
			start(ctx)
		}(start)
	}
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "Health check server shutdown failed")
	}
}

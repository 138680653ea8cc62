package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/clinic-records/internal/app"
	"github.com/jwalitptl/clinic-records/internal/config"
	auditHandler "github.com/jwalitptl/clinic-records/internal/handler/audit"
	authHandler "github.com/jwalitptl/clinic-records/internal/handler/auth"
	backupHandler "github.com/jwalitptl/clinic-records/internal/handler/backup"
	"github.com/jwalitptl/clinic-records/internal/handler/health"
	importHandler "github.com/jwalitptl/clinic-records/internal/handler/importer"
	patientHandler "github.com/jwalitptl/clinic-records/internal/handler/patient"
	promHandler "github.com/jwalitptl/clinic-records/internal/handler/prometheus"
	userHandler "github.com/jwalitptl/clinic-records/internal/handler/user"
	"github.com/jwalitptl/clinic-records/internal/middleware"
	"github.com/jwalitptl/clinic-records/internal/router"
	"github.com/jwalitptl/clinic-records/pkg/logger"
)

const (
	authCacheTTL    = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(&logger.Config{
		Level: logger.ParseLevel(cfg.Log.Level),
		JSON:  cfg.Log.JSON,
	})

	a, err := app.New(cfg, log, "api")
	if err != nil {
		log.Fatal(err, "failed to initialize application")
	}
	defer a.Close()

	if err := middleware.RegisterValidators(middleware.ValidationConfig{}); err != nil {
		log.Fatal(err, "failed to register validators")
	}

	gin.SetMode(gin.ReleaseMode)
	authMiddleware := middleware.NewAuthMiddleware(a.Auth, authCacheTTL, log)

	r := router.NewRouter(
		authMiddleware,
		router.Handlers{
			Health:  health.NewHandler(a.DB),
			Auth:    authHandler.NewHandler(a.Auth, log),
			Patient: patientHandler.NewHandler(a.Patients, log),
			Import:  importHandler.NewHandler(a.Importer, cfg.Import.MaxUploadSize, log),
			Audit:   auditHandler.NewHandler(a.Audit, log),
			User:    userHandler.NewHandler(a.Users, log),
			Backup:  backupHandler.NewHandler(a.Backups, log),
		},
		promHandler.New(prometheus.DefaultRegisterer),
		log,
		router.RouterConfig{
			RateLimit:  rate.Limit(cfg.RateLimit.RPS),
			RateBurst:  cfg.RateLimit.Burst,
			CORSConfig: middleware.DefaultCORSConfig(),
			Timeout:    time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		},
	)
	r.Setup()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err, "failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error(err, "server forced to shutdown")
	}
	log.Info("server exited")
}

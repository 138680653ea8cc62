// Package app wires repositories and services from configuration. The API
// server, the scheduler worker and clinicctl all build on it.
package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/clinic-records/internal/config"
	"github.com/jwalitptl/clinic-records/internal/email"
	"github.com/jwalitptl/clinic-records/internal/model"
	"github.com/jwalitptl/clinic-records/internal/repository"
	"github.com/jwalitptl/clinic-records/internal/repository/postgres"
	"github.com/jwalitptl/clinic-records/internal/repository/s3store"
	"github.com/jwalitptl/clinic-records/internal/service/audit"
	authService "github.com/jwalitptl/clinic-records/internal/service/auth"
	"github.com/jwalitptl/clinic-records/internal/service/backup"
	"github.com/jwalitptl/clinic-records/internal/service/importer"
	"github.com/jwalitptl/clinic-records/internal/service/notification"
	"github.com/jwalitptl/clinic-records/internal/service/patient"
	"github.com/jwalitptl/clinic-records/internal/service/user"
	"github.com/jwalitptl/clinic-records/pkg/auth"
	"github.com/jwalitptl/clinic-records/pkg/logger"
	"github.com/jwalitptl/clinic-records/pkg/messaging"
	"github.com/jwalitptl/clinic-records/pkg/messaging/redis"
	"github.com/jwalitptl/clinic-records/pkg/metrics"
	"github.com/jwalitptl/clinic-records/pkg/security"
)

const metricsNamespace = "clinic"

type App struct {
	Config  *config.Config
	Logger  *logger.Logger
	DB      *sqlx.DB
	Metrics *metrics.Metrics

	Audit    *audit.Service
	Recorder audit.Recorder
	Users    *user.Service
	Auth     *authService.Service
	Patients *patient.Service
	Importer *importer.Service
	Backups  *backup.Service

	broker messaging.Broker
}

// New connects to Postgres, S3 and, when configured, Redis, then builds
// every service. subsystem labels the process in metrics.
func New(cfg *config.Config, log *logger.Logger, subsystem string) (*App, error) {
	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		return nil, err
	}

	objects, err := s3store.NewObjectStore(cfg.S3)
	if err != nil {
		db.Close()
		return nil, err
	}

	a := &App{
		Config:  cfg,
		Logger:  log,
		DB:      db,
		Metrics: metrics.NewMetrics(metricsNamespace, subsystem),
	}
	if err := a.build(objects); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(objects repository.ObjectStore) error {
	cfg := a.Config
	base := postgres.NewBaseRepository(a.DB)

	patientRepo := postgres.NewPatientRepository(base)
	userRepo := postgres.NewUserRepository(base)
	auditRepo := postgres.NewAuditRepository(base)
	store := postgres.NewTabularStore(base, storeTables(cfg.Backup.Tables)...)

	a.Audit = audit.NewService(auditRepo)
	a.Recorder = audit.NewAuditLogger(a.Audit, a.Logger)

	hasher := security.NewBcryptHasher(0)
	jwtSvc := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, time.Duration(cfg.JWT.ExpiryHours)*time.Hour)

	a.Users = user.NewService(userRepo, hasher, a.Recorder, a.Logger, cfg.Audit.EmailDomain)
	a.Auth = authService.NewService(userRepo, jwtSvc, hasher, a.Logger)
	a.Patients = patient.NewService(patientRepo, store, a.Recorder, a.Logger)
	a.Importer = importer.NewService(patientRepo, a.Recorder, a.Metrics, a.Logger,
		importer.WithNormalizer(importer.NewNormalizer(importer.WithPrefixes(cfg.Import.IdentifierPrefixes...))),
		importer.WithDisambiguateTries(cfg.Import.DisambiguateTries),
	)

	notifier, err := a.notifier()
	if err != nil {
		return err
	}

	var opts []backup.Option
	if cfg.Backup.EncryptionKey != "" {
		enc, err := security.NewAESEncryptorFromPassphrase(cfg.Backup.EncryptionKey)
		if err != nil {
			return fmt.Errorf("failed to build backup encryptor: %w", err)
		}
		opts = append(opts, backup.WithEncryptor(enc))
	}
	a.Backups = backup.NewService(store, objects, notifier, a.Recorder, a.Metrics, a.Logger, backup.Config{
		Tables:         cfg.Backup.Tables,
		Prefix:         cfg.Backup.Prefix,
		MaxBackups:     cfg.Backup.MaxBackups,
		RetentionDays:  cfg.Backup.RetentionDays,
		Encryption:     cfg.Backup.Encryption,
		MaxFileSize:    cfg.Backup.MaxFileSize,
		UploadRetries:  cfg.Backup.UploadRetries,
		RestoreTimeout: cfg.Backup.RestoreTimeout,
	}, opts...)
	return nil
}

func (a *App) notifier() (notification.Notifier, error) {
	cfg := a.Config
	var opts []notification.Option

	for _, channel := range cfg.Notification.Channels {
		switch strings.ToLower(strings.TrimSpace(channel)) {
		case model.NotificationChannelEmail:
			if cfg.Notification.SMTPHost == "" {
				a.Logger.Warn("email notifications enabled without smtp_host; channel skipped")
				continue
			}
			sender := email.NewSMTPSender(email.Config{
				Host:     cfg.Notification.SMTPHost,
				Port:     cfg.Notification.SMTPPort,
				Username: cfg.Notification.SMTPUser,
				Password: cfg.Notification.SMTPPass,
				From:     cfg.Notification.From,
			})
			opts = append(opts, notification.WithEmail(sender, cfg.Notification.Recipients))
		case model.NotificationChannelInApp:
			if cfg.Redis.URL == "" {
				a.Logger.Warn("in-app notifications enabled without redis.url; channel skipped")
				continue
			}
			broker, err := redis.NewRedisBroker(redis.Config{
				URL:          cfg.Redis.URL,
				MaxRetries:   cfg.Redis.MaxRetries,
				RetryBackoff: cfg.Redis.RetryBackoff,
				PoolSize:     cfg.Redis.PoolSize,
				MinIdleConns: cfg.Redis.MinIdleConns,
			}, a.Logger.Zerolog())
			if err != nil {
				return nil, err
			}
			a.broker = broker
			opts = append(opts, notification.WithBroker(broker, cfg.Redis.Channel))
		default:
			return nil, fmt.Errorf("unknown notification channel %q", channel)
		}
	}
	return notification.NewService(a.Metrics, a.Logger, opts...), nil
}

// storeTables makes sure the patient table is reachable for identifier
// changes even when it is left out of backups.
func storeTables(backupTables []string) []string {
	tables := append([]string(nil), backupTables...)
	for _, t := range tables {
		if t == "patients" {
			return tables
		}
	}
	return append(tables, "patients")
}

func (a *App) Close() error {
	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			a.Logger.Error(err, "failed to close broker")
		}
	}
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}

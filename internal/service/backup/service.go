package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jwalitptl/clinic-records/internal/model"
	"github.com/jwalitptl/clinic-records/internal/repository"
	"github.com/jwalitptl/clinic-records/internal/service/audit"
	"github.com/jwalitptl/clinic-records/internal/service/notification"
	apperrors "github.com/jwalitptl/clinic-records/pkg/errors"
	"github.com/jwalitptl/clinic-records/pkg/logger"
	"github.com/jwalitptl/clinic-records/pkg/metrics"
	"github.com/jwalitptl/clinic-records/pkg/security"
)

var (
	ErrCorruptArtifact    = errors.New("corrupt backup artifact")
	ErrRestoreInProgress  = errors.New("restore already in progress")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrArtifactTooLarge   = errors.New("backup artifact too large")
)

const (
	keyPrefix   = "backup_"
	keySuffix   = ".json"
	keyTimeFmt  = "2006-01-02T15:04:05.000Z"
	contentType = "application/json"
)

// envelopeMagic marks artifacts sealed with the client-side key.
var envelopeMagic = []byte("CLINICENC1\n")

type Config struct {
	Tables         []string
	Prefix         string
	MaxBackups     int
	RetentionDays  int
	Encryption     string
	MaxFileSize    int64
	UploadRetries  int
	RestoreTimeout time.Duration
}

type Option func(*Service)

// WithEncryptor seals artifacts before upload.
func WithEncryptor(enc security.Encryptor) Option {
	return func(s *Service) { s.encryptor = enc }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRetryBackOff replaces the exponential upload backoff.
func WithRetryBackOff(b func() backoff.BackOff) Option {
	return func(s *Service) { s.newBackOff = b }
}

type Service struct {
	store      repository.TabularStore
	objects    repository.ObjectStore
	notifier   notification.Notifier
	audit      audit.Recorder
	metrics    *metrics.Metrics
	log        *logger.Logger
	cfg        Config
	encryptor  security.Encryptor
	now        func() time.Time
	newBackOff func() backoff.BackOff
	allowed    map[string]struct{}
	restoreMu  sync.Mutex
}

func NewService(store repository.TabularStore, objects repository.ObjectStore, notifier notification.Notifier,
	recorder audit.Recorder, m *metrics.Metrics, log *logger.Logger, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:      store,
		objects:    objects,
		notifier:   notifier,
		audit:      recorder,
		metrics:    m,
		log:        log,
		cfg:        cfg,
		now:        time.Now,
		newBackOff: defaultBackOff,
		allowed:    make(map[string]struct{}, len(cfg.Tables)),
	}
	for _, t := range cfg.Tables {
		s.allowed[t] = struct{}{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Minute
	return b
}

// PerformBackup snapshots every configured table into one artifact.
func (s *Service) PerformBackup(ctx context.Context) (*model.BackupResult, error) {
	start := s.now()
	result, err := s.performBackup(ctx)
	s.metrics.BackupDuration.Observe(s.now().Sub(start).Seconds())
	if err != nil {
		s.metrics.Backups.WithLabelValues("failed").Inc()
		s.log.Error(err, "backup failed")
		s.notify(ctx, "Backup Failed", fmt.Sprintf("Backup failed: %v", err))
		return nil, err
	}

	s.metrics.Backups.WithLabelValues("success").Inc()
	s.metrics.BackupBytes.Set(float64(result.Size))
	s.log.Info("backup completed", "key", result.Filename, "size", result.Size)
	s.notify(ctx, "Backup Successful", fmt.Sprintf("Backup completed: %s", result.Filename))
	return result, nil
}

func (s *Service) performBackup(ctx context.Context) (*model.BackupResult, error) {
	payload := make(model.BackupPayload, len(s.cfg.Tables))
	for _, table := range s.cfg.Tables {
		began := time.Now()
		rows, err := s.store.SelectAll(ctx, table)
		s.metrics.ObserveDB("backup_select_"+table, began, err)
		if err != nil {
			return nil, apperrors.Unavailable("database unavailable",
				fmt.Errorf("%w: failed to read %s: %v", ErrStorageUnavailable, table, err))
		}
		payload[table] = rows
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode backup: %w", err)
	}
	if s.encryptor != nil {
		sealed, err := s.encryptor.Encrypt(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt backup: %w", err)
		}
		body = append(append([]byte{}, envelopeMagic...), sealed...)
	}
	if s.cfg.MaxFileSize > 0 && int64(len(body)) > s.cfg.MaxFileSize {
		return nil, apperrors.Unprocessable("backup exceeds the maximum artifact size",
			fmt.Errorf("%w: %d > %d bytes", ErrArtifactTooLarge, len(body), s.cfg.MaxFileSize))
	}

	key := s.cfg.Prefix + keyPrefix + s.now().UTC().Format(keyTimeFmt) + keySuffix
	if err := s.upload(ctx, key, body); err != nil {
		return nil, err
	}

	return &model.BackupResult{
		Success:  true,
		Filename: key,
		Size:     int64(len(body)),
	}, nil
}

func (s *Service) upload(ctx context.Context, key string, body []byte) error {
	opts := repository.PutOptions{Encryption: s.cfg.Encryption, ContentType: contentType}

	var policy backoff.BackOff = s.newBackOff()
	if s.cfg.UploadRetries > 0 {
		policy = backoff.WithMaxRetries(policy, uint64(s.cfg.UploadRetries))
	}

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := s.objects.Put(ctx, key, body, opts)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		if err != nil {
			s.log.Warn("backup upload failed", "key", key, "attempt", attempt, "error", err.Error())
		}
		return err
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return apperrors.Unavailable("object store unavailable",
			fmt.Errorf("%w: failed to upload %s: %v", ErrStorageUnavailable, key, err))
	}
	return nil
}

// ListBackups returns stored artifacts newest first.
func (s *Service) ListBackups(ctx context.Context) ([]model.BackupArtifact, error) {
	artifacts, err := s.listArtifacts(ctx)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(artifacts)
	return artifacts, nil
}

func (s *Service) listArtifacts(ctx context.Context) ([]model.BackupArtifact, error) {
	artifacts, err := s.objects.List(ctx, s.cfg.Prefix+keyPrefix)
	if err != nil {
		return nil, apperrors.Unavailable("object store unavailable",
			fmt.Errorf("%w: failed to list backups: %v", ErrStorageUnavailable, err))
	}
	return artifacts, nil
}

// notify never fails the operation it reports on.
func (s *Service) notify(ctx context.Context, subject, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(context.WithoutCancel(ctx), subject, message); err != nil {
		s.log.Warn("failed to send notification", "subject", subject, "error", err.Error())
	}
}

// openArtifact strips the client-side envelope when present.
func (s *Service) openArtifact(body []byte) ([]byte, error) {
	if !bytes.HasPrefix(body, envelopeMagic) {
		return body, nil
	}
	if s.encryptor == nil {
		return nil, fmt.Errorf("%w: artifact is encrypted and no key is configured", ErrCorruptArtifact)
	}
	plain, err := s.encryptor.Decrypt(body[len(envelopeMagic):])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}
	return plain, nil
}

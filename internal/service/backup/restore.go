package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jwalitptl/clinic-records/internal/model"
	"github.com/jwalitptl/clinic-records/internal/repository"
	"github.com/jwalitptl/clinic-records/internal/service/audit"
	apperrors "github.com/jwalitptl/clinic-records/pkg/errors"
)

const restoreMessage = "Data restored successfully"

// RestoreFromBackup replaces every table in the artifact with its rows in
// one transaction. Tables absent from the artifact are left alone.
func (s *Service) RestoreFromBackup(ctx context.Context, key string) (*model.RestoreResult, error) {
	if !s.restoreMu.TryLock() {
		return nil, apperrors.Conflict("a restore is already running", ErrRestoreInProgress)
	}
	defer s.restoreMu.Unlock()

	if s.cfg.RestoreTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RestoreTimeout)
		defer cancel()
	}

	start := s.now()
	result, err := s.restore(ctx, key)
	s.metrics.RestoreDuration.Observe(s.now().Sub(start).Seconds())
	if err != nil {
		s.metrics.Restores.WithLabelValues("failed").Inc()
		s.log.Error(err, "restore failed", "key", key)
		s.notify(ctx, "Restore Failed", fmt.Sprintf("Restore from %s failed: %v", key, err))
		return nil, err
	}

	s.metrics.Restores.WithLabelValues("success").Inc()
	s.log.Info("restore completed", "key", key, "tables", result.Tables)
	s.notify(ctx, "Restore Successful", fmt.Sprintf("Data restored from %s", key))
	s.audit.Record(ctx, model.AuditActionRestore, model.ResourceBackup, key, &audit.LogOptions{
		Summary: result.Tables,
	})
	return result, nil
}

func (s *Service) restore(ctx context.Context, key string) (*model.RestoreResult, error) {
	if strings.TrimSpace(key) == "" {
		return nil, apperrors.BadRequest("backup key is required", nil)
	}

	body, err := s.objects.Get(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("backup", err)
		}
		return nil, apperrors.Unavailable("object store unavailable",
			fmt.Errorf("%w: failed to fetch %s: %v", ErrStorageUnavailable, key, err))
	}

	payload, err := s.decodePayload(body)
	if err != nil {
		return nil, apperrors.Unprocessable("backup artifact is corrupt", err)
	}

	// configured order, so referenced tables are filled before their
	// dependents and no cascade runs after an insert
	tables := make([]string, 0, len(payload))
	for _, table := range s.cfg.Tables {
		if _, ok := payload[table]; ok {
			tables = append(tables, table)
		}
	}

	counts := make(map[string]int, len(tables))
	began := time.Now()
	err = s.store.WithTransaction(ctx, func(tx repository.TabularTx) error {
		for _, table := range tables {
			if err := tx.Truncate(ctx, table); err != nil {
				return fmt.Errorf("failed to truncate %s: %w", table, err)
			}
		}
		for _, table := range tables {
			for i, row := range payload[table] {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := tx.Insert(ctx, table, row); err != nil {
					return fmt.Errorf("failed to restore %s row %d: %w", table, i+1, err)
				}
			}
			counts[table] = len(payload[table])
		}
		return nil
	})
	s.metrics.ObserveDB("restore", began, err)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.Unavailable("restore timed out", err)
		}
		return nil, fmt.Errorf("failed to restore %s: %w", key, err)
	}

	return &model.RestoreResult{
		Success: true,
		Message: restoreMessage,
		Tables:  counts,
	}, nil
}

// decodePayload rejects anything that is not a non-empty map of known
// tables to row arrays. Numbers stay json.Number so ids and amounts
// survive the round trip unchanged.
func (s *Service) decodePayload(body []byte) (model.BackupPayload, error) {
	body, err := s.openArtifact(body)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: empty artifact", ErrCorruptArtifact)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload model.BackupPayload
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: no tables", ErrCorruptArtifact)
	}
	for table, rows := range payload {
		if _, ok := s.allowed[table]; !ok {
			return nil, fmt.Errorf("%w: unexpected table %q", ErrCorruptArtifact, table)
		}
		for i, row := range rows {
			if row == nil {
				return nil, fmt.Errorf("%w: %s row %d is null", ErrCorruptArtifact, table, i+1)
			}
		}
	}
	return payload, nil
}

package patient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jwalitptl/clinic-records/internal/model"
	"github.com/jwalitptl/clinic-records/internal/repository"
	"github.com/jwalitptl/clinic-records/internal/service/audit"
	"github.com/jwalitptl/clinic-records/internal/service/importer"
	apperrors "github.com/jwalitptl/clinic-records/pkg/errors"
	"github.com/jwalitptl/clinic-records/pkg/logger"
)

const patientsTable = "patients"

var ErrDuplicateIdentifier = errors.New("duplicate identifier")

type PatientService interface {
	CreatePatient(ctx context.Context, req *model.CreatePatientRequest) (*model.Patient, error)
	GetPatient(ctx context.Context, id string) (*model.Patient, error)
	UpdatePatient(ctx context.Context, id string, req *model.UpdatePatientRequest) (*model.Patient, error)
	DeletePatient(ctx context.Context, id string) error
	ListPatients(ctx context.Context, filter *model.PatientFilter) ([]*model.Patient, int, error)
	ChangeIdentifier(ctx context.Context, oldID, newID string) (bool, error)
}

type Service struct {
	repo  repository.PatientRepository
	store repository.TabularStore
	audit audit.Recorder
	log   *logger.Logger
	now   func() time.Time
}

func NewService(repo repository.PatientRepository, store repository.TabularStore, recorder audit.Recorder, log *logger.Logger) *Service {
	return &Service{
		repo:  repo,
		store: store,
		audit: recorder,
		log:   log,
		now:   time.Now,
	}
}

func (s *Service) CreatePatient(ctx context.Context, req *model.CreatePatientRequest) (*model.Patient, error) {
	patient := req.ToPatient()
	if err := importer.ValidateIdentifier(patient.ID); err != nil {
		return nil, apperrors.BadRequest(err.Error(), err)
	}

	if err := s.repo.Create(ctx, patient); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, apperrors.Conflict(fmt.Sprintf("patient %s already exists", patient.ID), ErrDuplicateIdentifier)
		}
		return nil, fmt.Errorf("failed to create patient: %w", err)
	}

	s.audit.Record(ctx, model.AuditActionCreate, model.ResourcePatient, patient.ID, &audit.LogOptions{
		Changes: patient,
	})
	return patient, nil
}

func (s *Service) GetPatient(ctx context.Context, id string) (*model.Patient, error) {
	patient, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("patient", err)
		}
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	return patient, nil
}

// UpdatePatient applies a partial update and audits old and new values of
// the changed columns only.
func (s *Service) UpdatePatient(ctx context.Context, id string, req *model.UpdatePatientRequest) (*model.Patient, error) {
	patient, err := s.GetPatient(ctx, id)
	if err != nil {
		return nil, err
	}
	before, err := columnValues(patient)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot patient: %w", err)
	}

	changes := req.Apply(patient)
	if len(changes) == 0 {
		return patient, nil
	}

	if err := s.repo.Update(ctx, patient); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("patient", err)
		}
		return nil, fmt.Errorf("failed to update patient: %w", err)
	}

	old := make(map[string]interface{}, len(changes))
	for col := range changes {
		old[col] = before[col]
	}
	s.audit.Record(ctx, model.AuditActionEdit, model.ResourcePatient, id, &audit.LogOptions{
		Changes: changes,
		Old:     old,
	})
	return patient, nil
}

func (s *Service) DeletePatient(ctx context.Context, id string) error {
	patient, err := s.repo.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NotFound("patient", err)
		}
		return fmt.Errorf("failed to delete patient: %w", err)
	}

	s.audit.Record(ctx, model.AuditActionDelete, model.ResourcePatient, id, &audit.LogOptions{
		Old: patient,
	})
	return nil
}

func (s *Service) ListPatients(ctx context.Context, filter *model.PatientFilter) ([]*model.Patient, int, error) {
	patients, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list patients: %w", err)
	}
	return patients, total, nil
}

// ChangeIdentifier renames a patient's primary key in one transaction. The
// store is left untouched unless the old id exists and the new one is free.
func (s *Service) ChangeIdentifier(ctx context.Context, oldID, newID string) (bool, error) {
	if err := importer.ValidateIdentifier(newID); err != nil {
		return false, apperrors.BadRequest(err.Error(), err)
	}

	err := s.store.WithTransaction(ctx, func(tx repository.TabularTx) error {
		if _, err := tx.Get(ctx, patientsTable, oldID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperrors.NotFound("patient", err)
			}
			return err
		}

		_, err := tx.Get(ctx, patientsTable, newID)
		switch {
		case err == nil:
			return apperrors.Conflict(fmt.Sprintf("patient %s already exists", newID), ErrDuplicateIdentifier)
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}

		return tx.Update(ctx, patientsTable, oldID, model.Row{
			"id":         newID,
			"updated_at": s.now().UTC(),
		})
	})
	if err != nil {
		if _, ok := apperrors.As(err); ok {
			return false, err
		}
		if errors.Is(err, repository.ErrDuplicateKey) {
			return false, apperrors.Conflict(fmt.Sprintf("patient %s already exists", newID), ErrDuplicateIdentifier)
		}
		return false, fmt.Errorf("failed to change identifier: %w", err)
	}

	s.log.Info("patient identifier changed", "old_id", oldID, "new_id", newID)
	s.audit.Record(ctx, model.AuditActionRename, model.ResourcePatient, newID, &audit.LogOptions{
		Changes: map[string]string{"id": newID},
		Old:     map[string]string{"id": oldID},
	})
	return true, nil
}

// columnValues renders a patient keyed by column name.
func columnValues(p *model.Patient) (map[string]interface{}, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

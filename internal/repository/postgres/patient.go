package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/clinic-records/internal/model"
	"github.com/jwalitptl/clinic-records/internal/repository"
)

const patientColumns = `id, first_name, middle_name, last_name, birth_date, age, gender,
	phone_number, address, purpose, diagnosis, medication, nationality,
	social_security_id, social_security_expiration, social_security_company,
	balance, registered, created_at, updated_at`

type patientRepository struct {
	BaseRepository
}

func NewPatientRepository(base BaseRepository) repository.PatientRepository {
	return &patientRepository{base}
}

func (r *patientRepository) Create(ctx context.Context, patient *model.Patient) error {
	query := `
		INSERT INTO patients (` + patientColumns + `)
		VALUES (:id, :first_name, :middle_name, :last_name, :birth_date, :age, :gender,
			:phone_number, :address, :purpose, :diagnosis, :medication, :nationality,
			:social_security_id, :social_security_expiration, :social_security_company,
			:balance, :registered, :created_at, :updated_at)
	`
	now := time.Now().UTC()
	patient.CreatedAt = now
	patient.UpdatedAt = now

	if _, err := r.db.NamedExecContext(ctx, query, patient); err != nil {
		return fmt.Errorf("failed to create patient: %w", translateError(err))
	}
	return nil
}

func (r *patientRepository) Get(ctx context.Context, id string) (*model.Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE id = $1`

	var patient model.Patient
	if err := r.db.GetContext(ctx, &patient, query, id); err != nil {
		return nil, translateError(err)
	}
	return &patient, nil
}

func (r *patientRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM patients WHERE id = $1)`, id); err != nil {
		return false, fmt.Errorf("failed to check patient: %w", err)
	}
	return exists, nil
}

func (r *patientRepository) Update(ctx context.Context, patient *model.Patient) error {
	query := `
		UPDATE patients SET
			first_name = :first_name, middle_name = :middle_name, last_name = :last_name,
			birth_date = :birth_date, age = :age, gender = :gender,
			phone_number = :phone_number, address = :address, purpose = :purpose,
			diagnosis = :diagnosis, medication = :medication, nationality = :nationality,
			social_security_id = :social_security_id,
			social_security_expiration = :social_security_expiration,
			social_security_company = :social_security_company,
			balance = :balance, registered = :registered, updated_at = :updated_at
		WHERE id = :id
	`
	patient.UpdatedAt = time.Now().UTC()

	res, err := r.db.NamedExecContext(ctx, query, patient)
	if err != nil {
		return fmt.Errorf("failed to update patient: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *patientRepository) Delete(ctx context.Context, id string) (*model.Patient, error) {
	query := `DELETE FROM patients WHERE id = $1 RETURNING ` + patientColumns

	var patient model.Patient
	if err := r.db.GetContext(ctx, &patient, query, id); err != nil {
		return nil, translateError(err)
	}
	return &patient, nil
}

func (r *patientRepository) List(ctx context.Context, filter *model.PatientFilter) ([]*model.Patient, int, error) {
	if filter == nil {
		filter = &model.PatientFilter{}
	}
	page := filter.Pagination.Normalize()

	where := ""
	args := []interface{}{}
	if filter.Search != "" {
		where = ` WHERE first_name ILIKE $1 OR last_name ILIKE $1 OR phone_number LIKE $1 OR id ILIKE $1`
		args = append(args, "%"+filter.Search+"%")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM patients`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count patients: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM patients%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		patientColumns, where, len(args)+1, len(args)+2)
	args = append(args, page.PageSize, page.Offset())

	patients := []*model.Patient{}
	if err := r.db.SelectContext(ctx, &patients, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list patients: %w", err)
	}
	return patients, total, nil
}

package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-records/internal/model"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidName  = errors.New("invalid table or column name")
)

// All repository interfaces in one file
type (
	// TabularReader is the read side shared by the store and its transactions.
	TabularReader interface {
		Get(ctx context.Context, table, id string) (model.Row, error)
		List(ctx context.Context, table string, filter map[string]interface{}, page, limit int) ([]model.Row, error)
		SelectAll(ctx context.Context, table string) ([]model.Row, error)
	}

	// TabularWriter mutates rows of a named relation keyed by "id".
	TabularWriter interface {
		Insert(ctx context.Context, table string, row model.Row) error
		Update(ctx context.Context, table, id string, partial model.Row) error
		Delete(ctx context.Context, table, id string) error
	}

	// TabularTx is the view of the store inside WithTransaction.
	TabularTx interface {
		TabularReader
		TabularWriter
		Truncate(ctx context.Context, table string) error
	}

	// TabularStore offers generic row access over the fixed relation set.
	TabularStore interface {
		TabularReader
		TabularWriter
		// WithTransaction commits when fn returns nil and rolls back otherwise.
		WithTransaction(ctx context.Context, fn func(tx TabularTx) error) error
	}

	PatientRepository interface {
		Create(ctx context.Context, patient *model.Patient) error
		Get(ctx context.Context, id string) (*model.Patient, error)
		Exists(ctx context.Context, id string) (bool, error)
		Update(ctx context.Context, patient *model.Patient) error
		Delete(ctx context.Context, id string) (*model.Patient, error)
		List(ctx context.Context, filter *model.PatientFilter) ([]*model.Patient, int, error)
	}

	UserRepository interface {
		Create(ctx context.Context, user *model.User) error
		Get(ctx context.Context, id uuid.UUID) (*model.User, error)
		GetByUsername(ctx context.Context, username string) (*model.User, error)
		List(ctx context.Context) ([]*model.User, error)
		UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
		Delete(ctx context.Context, id uuid.UUID) error
	}

	AuditRepository interface {
		Create(ctx context.Context, log *model.AuditLog) error
		ListRecent(ctx context.Context, filter *model.AuditFilter) ([]*model.AuditLogView, error)
		Cleanup(ctx context.Context, before time.Time) (int64, error)
	}

	// ObjectStore holds backup artifacts.
	ObjectStore interface {
		Put(ctx context.Context, key string, body []byte, opts PutOptions) error
		Get(ctx context.Context, key string) ([]byte, error)
		List(ctx context.Context, prefix string) ([]model.BackupArtifact, error)
		Delete(ctx context.Context, key string) error
	}
)

// PutOptions controls how an object is written.
type PutOptions struct {
	// Encryption is the server-side encryption algorithm, e.g. "AES256".
	Encryption  string
	ContentType string
}

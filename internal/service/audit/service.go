package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/jwalitptl/clinic-records/internal/model"
	"github.com/jwalitptl/clinic-records/internal/repository"
)

// TrackedPatientFields are the columns shown in patient change sets.
var TrackedPatientFields = []string{
	"id", "first_name", "middle_name", "last_name", "birth_date", "age", "gender",
	"phone_number", "address", "purpose", "diagnosis", "medication", "nationality",
	"social_security_id", "social_security_expiration", "social_security_company",
	"balance", "registered",
}

type Service struct {
	repo repository.AuditRepository
	now  func() time.Time
}

func NewService(repo repository.AuditRepository) *Service {
	return &Service{repo: repo, now: time.Now}
}

type LogOptions struct {
	Changes interface{}
	Old     interface{}
	// Summary is stored alongside changes, e.g. import counts.
	Summary interface{}
}

// Log creates an audit log entry for the actor carried by ctx.
func (s *Service) Log(ctx context.Context, action model.AuditAction, resourceType, resourceID string, opts *LogOptions) error {
	if opts == nil {
		opts = &LogOptions{}
	}

	details, err := buildDetails(opts.Changes, opts.Summary)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}
	old, err := buildDetails(opts.Old, nil)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}

	actor := ActorFromContext(ctx)
	log := &model.AuditLog{
		ID:           uuid.New(),
		UserID:       actor.UserID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
		OldDetails:   old,
		IPAddress:    actor.IPAddress,
		UserAgent:    actor.UserAgent,
		CreatedAt:    s.now().UTC(),
	}

	return s.repo.Create(ctx, log)
}

// ListRecent returns the newest entries with change sets trimmed to the
// tracked patient fields.
func (s *Service) ListRecent(ctx context.Context, filter *model.AuditFilter) ([]*model.AuditLogView, error) {
	logs, err := s.repo.ListRecent(ctx, filter)
	if err != nil {
		return nil, err
	}
	for _, l := range logs {
		if l.ResourceType != model.ResourcePatient {
			continue
		}
		if l.Details, err = ProjectChanges(l.Details, TrackedPatientFields); err != nil {
			return nil, fmt.Errorf("failed to project audit %s: %w", l.ID, err)
		}
		if l.OldDetails, err = ProjectChanges(l.OldDetails, TrackedPatientFields); err != nil {
			return nil, fmt.Errorf("failed to project audit %s: %w", l.ID, err)
		}
	}
	return logs, nil
}

func (s *Service) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	return s.repo.Cleanup(ctx, before)
}

// buildDetails produces {"changes": ..., "summary": ...}, or nil when both
// are empty.
func buildDetails(changes, summary interface{}) (json.RawMessage, error) {
	if changes == nil && summary == nil {
		return nil, nil
	}
	doc := "{}"
	var err error
	if changes != nil {
		if doc, err = sjson.Set(doc, "changes", changes); err != nil {
			return nil, err
		}
	}
	if summary != nil {
		if doc, err = sjson.Set(doc, "summary", summary); err != nil {
			return nil, err
		}
	}
	return json.RawMessage(doc), nil
}

// ProjectChanges keeps only the listed keys of details.changes. Other
// top-level keys pass through untouched.
func ProjectChanges(details json.RawMessage, fields []string) (json.RawMessage, error) {
	if len(details) == 0 {
		return details, nil
	}
	changes := gjson.GetBytes(details, "changes")
	if !changes.IsObject() {
		return details, nil
	}

	projected := []byte("{}")
	var err error
	for _, f := range fields {
		v := changes.Get(f)
		if !v.Exists() {
			continue
		}
		if projected, err = sjson.SetRawBytes(projected, f, []byte(v.Raw)); err != nil {
			return nil, err
		}
	}

	out, err := sjson.SetRawBytes(details, "changes", projected)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(out), nil
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-records/internal/model"
	"github.com/jwalitptl/clinic-records/internal/repository"
)

const defaultAuditLimit = 100

type auditRepository struct {
	BaseRepository
}

func NewAuditRepository(base BaseRepository) repository.AuditRepository {
	return &auditRepository{base}
}

func (r *auditRepository) Create(ctx context.Context, log *model.AuditLog) error {
	query := `
		INSERT INTO audit_logs (
			id, user_id, action, resource_type, resource_id,
			details, old_details, ip_address, user_agent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, query,
		log.ID,
		log.UserID,
		log.Action,
		log.ResourceType,
		log.ResourceID,
		nullableJSON(log.Details),
		nullableJSON(log.OldDetails),
		log.IPAddress,
		log.UserAgent,
		log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

func (r *auditRepository) ListRecent(ctx context.Context, filter *model.AuditFilter) ([]*model.AuditLogView, error) {
	query := `
		SELECT al.id, al.user_id, al.action, al.resource_type, al.resource_id,
			al.details, al.old_details, al.ip_address, al.user_agent, al.created_at,
			u.username AS user_name
		FROM audit_logs al
		LEFT JOIN users u ON al.user_id = u.id
		WHERE 1=1`
	var args []interface{}

	limit := defaultAuditLimit
	if filter != nil {
		if filter.ResourceType != "" {
			args = append(args, filter.ResourceType)
			query += fmt.Sprintf(" AND al.resource_type = $%d", len(args))
		}
		if filter.ResourceID != "" {
			args = append(args, filter.ResourceID)
			query += fmt.Sprintf(" AND al.resource_id = $%d", len(args))
		}
		if filter.Limit > 0 && filter.Limit < defaultAuditLimit {
			limit = filter.Limit
		}
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY al.created_at DESC LIMIT $%d", len(args))

	logs := []*model.AuditLogView{}
	if err := r.db.SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return logs, nil
}

func (r *auditRepository) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup audit logs: %w", err)
	}
	return res.RowsAffected()
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

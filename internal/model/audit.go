package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type AuditAction string

const (
	AuditActionCreate  AuditAction = "CREATE"
	AuditActionEdit    AuditAction = "EDIT"
	AuditActionDelete  AuditAction = "DELETE"
	AuditActionImport  AuditAction = "IMPORT"
	AuditActionRename  AuditAction = "RENAME"
	AuditActionRestore AuditAction = "RESTORE"
)

const (
	ResourcePatient = "patient"
	ResourceUser    = "user"
	ResourceBackup  = "backup"
)

type AuditLog struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	UserID       *uuid.UUID      `json:"user_id,omitempty" db:"user_id"`
	Action       AuditAction     `json:"action" db:"action"`
	ResourceType string          `json:"resource_type" db:"resource_type"`
	ResourceID   string          `json:"resource_id" db:"resource_id"`
	Details      json.RawMessage `json:"details,omitempty" db:"details"`
	OldDetails   json.RawMessage `json:"old_details,omitempty" db:"old_details"`
	IPAddress    string          `json:"ip_address" db:"ip_address"`
	UserAgent    string          `json:"user_agent" db:"user_agent"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// AuditLogView is an audit row joined with the acting user's name.
type AuditLogView struct {
	AuditLog
	UserName *string `json:"user_name" db:"user_name"`
}

type AuditFilter struct {
	ResourceType string `form:"resource_type"`
	ResourceID   string `form:"resource_id"`
	Limit        int    `form:"limit"`
}

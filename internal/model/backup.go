package model

import "time"

// BackupArtifact describes one stored snapshot.
type BackupArtifact struct {
	Key          string    `json:"key"`
	LastModified time.Time `json:"last_modified"`
	Size         int64     `json:"size"`
}

// BackupPayload is the artifact body: table name to rows.
type BackupPayload map[string][]Row

type BackupResult struct {
	Success  bool   `json:"success"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

type RetentionResult struct {
	DeletedCount   int      `json:"deletedCount"`
	RemainingCount int      `json:"remainingCount"`
	Deleted        []string `json:"deleted,omitempty"`
}

type RestoreResult struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Tables  map[string]int `json:"tables,omitempty"`
}

type RestoreRequest struct {
	BackupKey string `json:"backupKey" binding:"required"`
}

package audit

import (
	"context"

	"github.com/jwalitptl/clinic-records/internal/model"
	"github.com/jwalitptl/clinic-records/pkg/logger"
)

// Recorder is what other services use to write audit entries.
type Recorder interface {
	Record(ctx context.Context, action model.AuditAction, resourceType, resourceID string, opts *LogOptions)
}

// AuditLogger records entries without failing the caller; the audited
// change has already happened by the time it is logged.
type AuditLogger struct {
	service *Service
	log     *logger.Logger
}

func NewAuditLogger(service *Service, log *logger.Logger) *AuditLogger {
	return &AuditLogger{
		service: service,
		log:     log,
	}
}

func (l *AuditLogger) Record(ctx context.Context, action model.AuditAction, resourceType, resourceID string, opts *LogOptions) {
	if err := l.service.Log(context.WithoutCancel(ctx), action, resourceType, resourceID, opts); err != nil {
		l.log.Error(err, "failed to write audit log",
			"action", action,
			"resource_type", resourceType,
			"resource_id", resourceID,
		)
	}
}

func (l *AuditLogger) LogSync(ctx context.Context, action model.AuditAction, resourceType, resourceID string, opts *LogOptions) error {
	return l.service.Log(ctx, action, resourceType, resourceID, opts)
}

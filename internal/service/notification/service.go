package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jwalitptl/clinic-records/internal/email"
	"github.com/jwalitptl/clinic-records/internal/model"
	"github.com/jwalitptl/clinic-records/pkg/logger"
	"github.com/jwalitptl/clinic-records/pkg/messaging"
	"github.com/jwalitptl/clinic-records/pkg/metrics"
)

// Notifier tells operators about backup and restore outcomes.
type Notifier interface {
	Notify(ctx context.Context, subject, message string) error
}

type Option func(*service)

// WithEmail enables the email channel.
func WithEmail(sender email.Sender, recipients []string) Option {
	return func(s *service) {
		s.emailSvc = sender
		s.recipients = recipients
	}
}

// WithBroker enables the in-app channel, published on topic.
func WithBroker(broker messaging.Broker, topic string) Option {
	return func(s *service) {
		s.broker = broker
		s.topic = topic
	}
}

type service struct {
	emailSvc   email.Sender
	recipients []string
	broker     messaging.Broker
	topic      string
	metrics    *metrics.Metrics
	log        *logger.Logger
	now        func() time.Time
}

func NewService(m *metrics.Metrics, log *logger.Logger, opts ...Option) Notifier {
	s := &service{
		metrics: m,
		log:     log,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Notify fans out to every configured channel. A failing channel does not
// stop the others; the joined error is returned.
func (s *service) Notify(ctx context.Context, subject, message string) error {
	var errs []error

	if s.emailSvc != nil {
		err := s.emailSvc.Send(ctx, s.recipients, subject, message)
		s.observe(model.NotificationChannelEmail, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("email: %w", err))
		}
	}

	if s.broker != nil {
		err := s.broker.Publish(ctx, s.topic, model.Notification{
			Subject:   subject,
			Message:   message,
			CreatedAt: s.now().UTC(),
		})
		s.observe(model.NotificationChannelInApp, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("in-app: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		s.log.Error(err, "notification delivery failed", "subject", subject)
		return err
	}
	s.log.Debug("notification sent", "subject", subject)
	return nil
}

func (s *service) observe(channel string, err error) {
	status := "sent"
	if err != nil {
		status = "failed"
	}
	s.metrics.Notifications.WithLabelValues(channel, status).Inc()
}

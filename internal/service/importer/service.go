package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jwalitptl/clinic-records/internal/model"
	"github.com/jwalitptl/clinic-records/internal/repository"
	"github.com/jwalitptl/clinic-records/internal/service/audit"
	"github.com/jwalitptl/clinic-records/pkg/logger"
	"github.com/jwalitptl/clinic-records/pkg/metrics"
)

// ErrNoFreeIdentifier is a row failure when every disambiguation suffix
// is already taken.
var ErrNoFreeIdentifier = errors.New("no free identifier")

const defaultDisambiguateTries = 5

type Service struct {
	patients   repository.PatientRepository
	audit      audit.Recorder
	metrics    *metrics.Metrics
	log        *logger.Logger
	normalizer *Normalizer
	matcher    NameMatcher
	now        func() time.Time
	tries      int
}

type ServiceOption func(*Service)

func WithNormalizer(n *Normalizer) ServiceOption {
	return func(s *Service) { s.normalizer = n }
}

// WithMatcher swaps the identity check used on identifier collisions.
func WithMatcher(m NameMatcher) ServiceOption {
	return func(s *Service) { s.matcher = m }
}

func WithDisambiguateTries(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.tries = n
		}
	}
}

// WithSuffixClock sets the clock disambiguation suffixes are derived from.
func WithSuffixClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func NewService(patients repository.PatientRepository, recorder audit.Recorder, m *metrics.Metrics, log *logger.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		patients:   patients,
		audit:      recorder,
		metrics:    m,
		log:        log,
		normalizer: NewNormalizer(),
		matcher:    ExactNameMatcher{},
		now:        time.Now,
		tries:      defaultDisambiguateTries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ImportFile parses an uploaded spreadsheet and imports its rows.
func (s *Service) ImportFile(ctx context.Context, filename string, r io.Reader) (*model.ImportReport, error) {
	rows, err := ReadRows(filename, r)
	if err != nil {
		return nil, err
	}
	return s.ImportRows(ctx, rows)
}

// ImportRows reconciles rows in order. A failing row is recorded in the
// report and never stops the rows after it; only cancellation of ctx ends
// the run early.
func (s *Service) ImportRows(ctx context.Context, rows []RawRow) (*model.ImportReport, error) {
	start := time.Now()
	report := &model.ImportReport{
		Errors: []string{},
		Rows:   make([]model.ImportRowResult, 0, len(rows)),
	}

	var runErr error
	for i, raw := range rows {
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("import cancelled after %d rows: %w", i, err)
			break
		}

		res := s.importRow(ctx, i+2, raw)
		report.Rows = append(report.Rows, res)
		switch res.Outcome {
		case model.RowCreated:
			report.Created++
		case model.RowUpdated:
			report.Updated++
		case model.RowSkipped:
			report.Skipped++
		case model.RowFailed:
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("Row %d: %s", res.Row, res.Reason))
		}
		s.metrics.ImportRows.WithLabelValues(string(res.Outcome)).Inc()
	}
	s.metrics.ImportDuration.Observe(time.Since(start).Seconds())

	s.audit.Record(ctx, model.AuditActionImport, model.ResourcePatient, "", &audit.LogOptions{
		Summary: map[string]int{
			"created": report.Created,
			"updated": report.Updated,
			"failed":  report.Failed,
			"skipped": report.Skipped,
		},
	})
	s.log.Info("import completed",
		"rows", len(rows),
		"created", report.Created,
		"updated", report.Updated,
		"failed", report.Failed,
		"skipped", report.Skipped,
	)

	return report, runErr
}

func (s *Service) importRow(ctx context.Context, rowNum int, raw RawRow) model.ImportRowResult {
	res := model.ImportRowResult{Row: rowNum}
	fail := func(err error) model.ImportRowResult {
		res.Outcome = model.RowFailed
		res.Reason = err.Error()
		return res
	}

	incoming, err := s.normalizer.NormalizeRow(raw)
	if errors.Is(err, ErrSkipRow) {
		res.Outcome = model.RowSkipped
		return res
	}
	if err != nil {
		return fail(err)
	}

	existing, err := s.patients.Get(ctx, incoming.ID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		if err := s.patients.Create(ctx, incoming.ToPatient(incoming.ID)); err != nil {
			return fail(err)
		}
		res.Outcome = model.RowCreated
		res.PatientID = incoming.ID
		return res
	case err != nil:
		return fail(fmt.Errorf("failed to look up %s: %w", incoming.ID, err))
	}

	if s.matcher.Match(existing, incoming) {
		incoming.ApplyTo(existing)
		if err := s.patients.Update(ctx, existing); err != nil {
			return fail(err)
		}
		res.Outcome = model.RowUpdated
		res.PatientID = existing.ID
		return res
	}

	// same identifier, different person: keep both records
	id, err := s.disambiguate(ctx, incoming.ID)
	if err != nil {
		return fail(err)
	}
	if err := s.patients.Create(ctx, incoming.ToPatient(id)); err != nil {
		return fail(err)
	}
	s.log.Warn("identifier collision, created new record",
		"identifier", incoming.ID,
		"new_identifier", id,
		"row", rowNum,
	)
	res.Outcome = model.RowCreated
	res.PatientID = id
	return res
}

// disambiguate appends a four digit suffix taken from the current
// millisecond, stepping forward while the candidate is taken.
func (s *Service) disambiguate(ctx context.Context, id string) (string, error) {
	base := s.now().UnixMilli()
	for i := 0; i < s.tries; i++ {
		candidate := fmt.Sprintf("%s-%04d", id, (base+int64(i))%10000)
		exists, err := s.patients.Exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w for %s after %d attempts", ErrNoFreeIdentifier, id, s.tries)
}

package importer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Pallinder/go-randomdata"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/jwalitptl/clinic-records/internal/model"
	"github.com/jwalitptl/clinic-records/internal/repository/memory"
	"github.com/jwalitptl/clinic-records/internal/service/audit"
	"github.com/jwalitptl/clinic-records/pkg/logger"
	"github.com/jwalitptl/clinic-records/pkg/metrics"
)

type recordedAudit struct {
	action       model.AuditAction
	resourceType string
	resourceID   string
	opts         *audit.LogOptions
}

type fakeRecorder struct {
	entries []recordedAudit
}

func (f *fakeRecorder) Record(_ context.Context, action model.AuditAction, resourceType, resourceID string, opts *audit.LogOptions) {
	f.entries = append(f.entries, recordedAudit{action, resourceType, resourceID, opts})
}

// suffix 1234
var suffixTime = time.UnixMilli(1700000001234)

type ImportServiceTestSuite struct {
	suite.Suite
	store    *memory.Store
	recorder *fakeRecorder
	metrics  *metrics.Metrics
	service  *Service
}

func TestImportServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ImportServiceTestSuite))
}

func (s *ImportServiceTestSuite) SetupTest() {
	s.store = memory.NewStore("patients")
	s.recorder = &fakeRecorder{}
	s.metrics = metrics.NewTestMetrics()
	s.service = s.newService()
}

func (s *ImportServiceTestSuite) newService(opts ...ServiceOption) *Service {
	opts = append([]ServiceOption{
		WithNormalizer(NewNormalizer(WithClock(func() time.Time { return fixedToday }))),
		WithSuffixClock(func() time.Time { return suffixTime }),
	}, opts...)
	return NewService(s.store.Patients(), s.recorder, s.metrics, logger.Nop(), opts...)
}

func (s *ImportServiceTestSuite) TestRowWithoutNameIsSilentlySkipped() {
	report, err := s.service.ImportRows(context.Background(), []RawRow{
		{"UHID": "1234567", "Dob": "01/01/2000"},
	})
	s.Require().NoError(err)

	s.Equal(0, report.Created)
	s.Equal(0, report.Updated)
	s.Equal(0, report.Failed)
	s.Equal(1, report.Skipped)
	s.Empty(report.Errors)
	s.Equal(0, s.store.Count("patients"))
}

func (s *ImportServiceTestSuite) TestSameIdentifierSameNameUpdates() {
	report, err := s.service.ImportRows(context.Background(), []RawRow{
		{"UHID": "MKC1234567", "FullName": "Ann Lee", "Diagnosis": "flu"},
		{"UHID": "1234567", "FullName": "ann  LEE", "Diagnosis": "cold"},
	})
	s.Require().NoError(err)

	s.Equal(1, report.Created)
	s.Equal(1, report.Updated)
	s.Equal(1, s.store.Count("patients"))

	p, err := s.store.Patients().Get(context.Background(), "1234567")
	s.Require().NoError(err)
	s.Equal("cold", p.Diagnosis)
}

func (s *ImportServiceTestSuite) TestSameIdentifierDifferentNameCreatesNewRecord() {
	report, err := s.service.ImportRows(context.Background(), []RawRow{
		{"UHID": "1234567", "FullName": "Ann Lee", "Diagnosis": "flu"},
		{"UHID": "1234567", "FullName": "Bob Tran", "Diagnosis": "cold"},
	})
	s.Require().NoError(err)

	s.Equal(2, report.Created)
	s.Equal(0, report.Updated)
	s.Equal(2, s.store.Count("patients"))
	s.Equal("1234567-1234", report.Rows[1].PatientID)

	first, err := s.store.Patients().Get(context.Background(), "1234567")
	s.Require().NoError(err)
	s.Equal("Ann", first.FirstName)
	s.Equal("flu", first.Diagnosis)

	second, err := s.store.Patients().Get(context.Background(), "1234567-1234")
	s.Require().NoError(err)
	s.Equal("Bob", second.FirstName)
}

func (s *ImportServiceTestSuite) TestDisambiguationStepsPastTakenSuffix() {
	ctx := context.Background()
	s.Require().NoError(s.store.Patients().Create(ctx, &model.Patient{ID: "1234567", FirstName: "Ann"}))
	s.Require().NoError(s.store.Patients().Create(ctx, &model.Patient{ID: "1234567-1234", FirstName: "Cat"}))

	report, err := s.service.ImportRows(ctx, []RawRow{{"UHID": "1234567", "FullName": "Bob"}})
	s.Require().NoError(err)
	s.Equal("1234567-1235", report.Rows[0].PatientID)
}

func (s *ImportServiceTestSuite) TestDisambiguationGivesUp() {
	ctx := context.Background()
	s.Require().NoError(s.store.Patients().Create(ctx, &model.Patient{ID: "1234567", FirstName: "Ann"}))
	s.Require().NoError(s.store.Patients().Create(ctx, &model.Patient{ID: "1234567-1234", FirstName: "Cat"}))

	svc := s.newService(WithDisambiguateTries(1))
	report, err := svc.ImportRows(ctx, []RawRow{{"UHID": "1234567", "FullName": "Bob"}})
	s.Require().NoError(err)
	s.Equal(1, report.Failed)
	s.Contains(report.Errors[0], "Row 2: no free identifier for 1234567")
}

type lastNameMatcher struct{}

func (lastNameMatcher) Match(existing *model.Patient, incoming *NormalizedPatient) bool {
	return strings.EqualFold(existing.LastName, incoming.LastName)
}

func (s *ImportServiceTestSuite) TestCustomMatcherDecidesCollisions() {
	svc := s.newService(WithMatcher(lastNameMatcher{}))
	report, err := svc.ImportRows(context.Background(), []RawRow{
		{"UHID": "1234567", "FullName": "Ann Lee", "Diagnosis": "flu"},
		{"UHID": "1234567", "FullName": "Bob Lee", "Diagnosis": "cold"},
	})
	s.Require().NoError(err)

	s.Equal(1, report.Created)
	s.Equal(1, report.Updated)
	s.Equal(1, s.store.Count("patients"))
}

func (s *ImportServiceTestSuite) TestFailedRowDoesNotStopLaterRows() {
	report, err := s.service.ImportRows(context.Background(), []RawRow{
		{"UHID": "1", "FullName": "Ann", "Dob": "garbage"},
		{"UHID": "2", "FullName": "Bob", "Balance": "??"},
		{"UHID": "3", "FullName": "Cat"},
	})
	s.Require().NoError(err)

	s.Equal(1, report.Created)
	s.Equal(2, report.Failed)
	s.Equal([]string{
		`Row 2: invalid date format for Dob: "garbage"`,
		`Row 3: invalid balance format: "??"`,
	}, report.Errors)
	s.Equal(model.RowCreated, report.Rows[2].Outcome)
	s.Equal(4, report.Rows[2].Row)
}

func (s *ImportServiceTestSuite) TestStoreFailureIsRecordedPerRow() {
	s.store.Hook = func(op, table, id string) error {
		if op == "insert" && id == "2" {
			return errors.New("connection reset")
		}
		return nil
	}

	report, err := s.service.ImportRows(context.Background(), []RawRow{
		{"UHID": "1", "FullName": "Ann"},
		{"UHID": "2", "FullName": "Bob"},
		{"UHID": "3", "FullName": "Cat"},
	})
	s.Require().NoError(err)

	s.Equal(2, report.Created)
	s.Equal(1, report.Failed)
	s.Equal([]string{"Row 3: connection reset"}, report.Errors)
	s.Equal(2, s.store.Count("patients"))
}

func (s *ImportServiceTestSuite) TestWritesAuditSummaryAndMetrics() {
	_, err := s.service.ImportRows(context.Background(), []RawRow{
		{"UHID": "1", "FullName": randomdata.FullName(randomdata.RandomGender)},
		{"UHID": "1", "FullName": ""},
		{"UHID": "", "FullName": "Nameless Id"},
	})
	s.Require().NoError(err)

	s.Require().Len(s.recorder.entries, 1)
	entry := s.recorder.entries[0]
	s.Equal(model.AuditActionImport, entry.action)
	s.Equal(map[string]int{"created": 1, "updated": 0, "failed": 1, "skipped": 1}, entry.opts.Summary)

	s.Equal(float64(1), testutil.ToFloat64(s.metrics.ImportRows.WithLabelValues("created")))
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.ImportRows.WithLabelValues("failed")))
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.ImportRows.WithLabelValues("skipped")))
}

func (s *ImportServiceTestSuite) TestCancelledContextStopsRun() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := s.service.ImportRows(ctx, []RawRow{{"UHID": "1", "FullName": "Ann"}})
	s.ErrorIs(err, context.Canceled)
	s.Empty(report.Rows)
	s.Equal(0, s.store.Count("patients"))
}

func (s *ImportServiceTestSuite) TestImportFileCSV() {
	csv := "UHID,FullName,Dob,Age,Balance\n" +
		"MKC0000001,Ann Lee,29/02/2020,5,\"1,234.50 USD\"\n" +
		"MKC0000002,,01/01/1990,,\n"

	report, err := s.service.ImportFile(context.Background(), "patients.csv", strings.NewReader(csv))
	s.Require().NoError(err)
	s.Equal(1, report.Created)
	s.Equal(1, report.Skipped)

	p, err := s.store.Patients().Get(context.Background(), "0000001")
	s.Require().NoError(err)
	s.Equal("1234.50", p.Balance.StringFixed(2))
	s.Equal(5, p.Age)
}

func (s *ImportServiceTestSuite) TestImportFileCSVRowNumbersCountBlankLines() {
	csv := "UHID,FullName,Dob\n1,Ann,\n\n2,Bob,garbage\n"

	report, err := s.service.ImportFile(context.Background(), "patients.csv", strings.NewReader(csv))
	s.Require().NoError(err)
	s.Equal(1, report.Created)
	s.Equal(1, report.Skipped)
	s.Equal([]string{`Row 4: invalid date format for Dob: "garbage"`}, report.Errors)
}

func (s *ImportServiceTestSuite) TestImportFileRejectsUnknownType() {
	_, err := s.service.ImportFile(context.Background(), "patients.pdf", strings.NewReader("x"))
	s.ErrorIs(err, ErrUnsupportedFormat)
}

func TestExactNameMatcher(t *testing.T) {
	m := ExactNameMatcher{}
	existing := &model.Patient{FirstName: " Ann ", LastName: "Van  Lee"}

	assert.True(t, m.Match(existing, &NormalizedPatient{FirstName: "ann", LastName: "van lee"}))
	assert.False(t, m.Match(existing, &NormalizedPatient{FirstName: "Ann", LastName: "Lee"}))
	require.False(t, m.Match(&model.Patient{FirstName: "Ann"}, &NormalizedPatient{FirstName: "Anne"}))
}

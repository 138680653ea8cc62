package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-records/internal/model"
	"github.com/jwalitptl/clinic-records/pkg/logger"
)

type mockAuditRepo struct {
	mock.Mock
}

func (m *mockAuditRepo) Create(ctx context.Context, log *model.AuditLog) error {
	return m.Called(ctx, log).Error(0)
}

func (m *mockAuditRepo) ListRecent(ctx context.Context, filter *model.AuditFilter) ([]*model.AuditLogView, error) {
	args := m.Called(ctx, filter)
	logs, _ := args.Get(0).([]*model.AuditLogView)
	return logs, args.Error(1)
}

func (m *mockAuditRepo) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

func TestLogUsesActorAndChanges(t *testing.T) {
	repo := &mockAuditRepo{}
	svc := NewService(repo)
	userID := uuid.New()
	ctx := WithActor(context.Background(), Actor{UserID: &userID, IPAddress: "10.1.1.1", UserAgent: "test"})

	var saved *model.AuditLog
	repo.On("Create", ctx, mock.AnythingOfType("*model.AuditLog")).
		Run(func(args mock.Arguments) { saved = args.Get(1).(*model.AuditLog) }).
		Return(nil)

	err := svc.Log(ctx, model.AuditActionEdit, model.ResourcePatient, "1234567", &LogOptions{
		Changes: map[string]interface{}{"age": 41},
		Old:     map[string]interface{}{"age": 40},
	})
	require.NoError(t, err)
	require.NotNil(t, saved)

	assert.Equal(t, &userID, saved.UserID)
	assert.Equal(t, "10.1.1.1", saved.IPAddress)
	assert.JSONEq(t, `{"changes":{"age":41}}`, string(saved.Details))
	assert.JSONEq(t, `{"changes":{"age":40}}`, string(saved.OldDetails))
	repo.AssertExpectations(t)
}

func TestLogWithoutOptions(t *testing.T) {
	repo := &mockAuditRepo{}
	svc := NewService(repo)

	repo.On("Create", mock.Anything, mock.MatchedBy(func(l *model.AuditLog) bool {
		return l.Details == nil && l.OldDetails == nil && l.UserID == nil
	})).Return(nil)

	require.NoError(t, svc.Log(context.Background(), model.AuditActionDelete, model.ResourceUser, "u", nil))
	repo.AssertExpectations(t)
}

func TestListRecentProjectsPatientChanges(t *testing.T) {
	repo := &mockAuditRepo{}
	svc := NewService(repo)

	logs := []*model.AuditLogView{
		{AuditLog: model.AuditLog{
			ResourceType: model.ResourcePatient,
			Details:      json.RawMessage(`{"changes":{"age":3,"password_hash":"x","updated_at":"t"},"summary":{"n":1}}`),
		}},
		{AuditLog: model.AuditLog{
			ResourceType: model.ResourceUser,
			Details:      json.RawMessage(`{"changes":{"role":"admin"}}`),
		}},
	}
	repo.On("ListRecent", mock.Anything, (*model.AuditFilter)(nil)).Return(logs, nil)

	out, err := svc.ListRecent(context.Background(), nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"changes":{"age":3},"summary":{"n":1}}`, string(out[0].Details))
	assert.JSONEq(t, `{"changes":{"role":"admin"}}`, string(out[1].Details))
}

func TestProjectChangesPassThrough(t *testing.T) {
	out, err := ProjectChanges(nil, TrackedPatientFields)
	require.NoError(t, err)
	assert.Nil(t, out)

	in := json.RawMessage(`{"summary":{"created":2}}`)
	out, err = ProjectChanges(in, TrackedPatientFields)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestAuditLoggerSwallowsErrors(t *testing.T) {
	repo := &mockAuditRepo{}
	var buf bytes.Buffer
	l := NewAuditLogger(NewService(repo), logger.NewLogger(&logger.Config{Level: logger.InfoLevel, Output: &buf, JSON: true}))

	repo.On("Create", mock.Anything, mock.Anything).Return(errors.New("db down"))

	l.Record(context.Background(), model.AuditActionCreate, model.ResourcePatient, "1", nil)
	assert.Contains(t, buf.String(), "failed to write audit log")
	assert.Contains(t, buf.String(), "db down")

	assert.Error(t, l.LogSync(context.Background(), model.AuditActionCreate, model.ResourcePatient, "1", nil))
}

package user

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/jwalitptl/clinic-records/internal/model"
	apperrors "github.com/jwalitptl/clinic-records/pkg/errors"
	"github.com/jwalitptl/clinic-records/pkg/logger"
)

type mockUserService struct {
	mock.Mock
}

func (m *mockUserService) CreateUser(ctx context.Context, req *model.CreateUserRequest) (*model.User, error) {
	args := m.Called(ctx, req)
	u, _ := args.Get(0).(*model.User)
	return u, args.Error(1)
}

func (m *mockUserService) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	args := m.Called(ctx, id)
	u, _ := args.Get(0).(*model.User)
	return u, args.Error(1)
}

func (m *mockUserService) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	args := m.Called(ctx, username)
	u, _ := args.Get(0).(*model.User)
	return u, args.Error(1)
}

func (m *mockUserService) ListUsers(ctx context.Context) ([]*model.User, error) {
	args := m.Called(ctx)
	u, _ := args.Get(0).([]*model.User)
	return u, args.Error(1)
}

func (m *mockUserService) UpdatePassword(ctx context.Context, id uuid.UUID, password string) error {
	return m.Called(ctx, id, password).Error(0)
}

func (m *mockUserService) DeleteUser(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func serve(svc *mockUserService, method, target, body string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(svc, logger.Nop()).RegisterRoutes(r.Group("/api/v1"))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestCreateUser(t *testing.T) {
	svc := &mockUserService{}
	svc.On("CreateUser", mock.Anything, mock.MatchedBy(func(req *model.CreateUserRequest) bool {
		return req.Username == "nurse1" && req.Password == "longenough"
	})).Return(&model.User{ID: uuid.New(), Username: "nurse1", PasswordHash: "secret-hash"}, nil)

	w := serve(svc, http.MethodPost, "/api/v1/users", `{"username":"nurse1","password":"longenough"}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.NotContains(t, w.Body.String(), "secret-hash")

	w = serve(svc, http.MethodPost, "/api/v1/users", `{"username":"n","password":"short"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteUser(t *testing.T) {
	svc := &mockUserService{}
	missing := uuid.New()
	svc.On("DeleteUser", mock.Anything, missing).Return(apperrors.NotFound("user", nil))

	w := serve(svc, http.MethodDelete, "/api/v1/users/"+missing.String(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(svc, http.MethodDelete, "/api/v1/users/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdatePassword(t *testing.T) {
	svc := &mockUserService{}
	id := uuid.New()
	svc.On("UpdatePassword", mock.Anything, id, "brand-new-pass").Return(nil)

	w := serve(svc, http.MethodPut, "/api/v1/users/"+id.String()+"/password", `{"password":"brand-new-pass"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

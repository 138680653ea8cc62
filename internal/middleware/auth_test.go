package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-records/internal/model"
	"github.com/jwalitptl/clinic-records/internal/service/audit"
	"github.com/jwalitptl/clinic-records/pkg/logger"
)

type stubAuthenticator struct {
	users map[string]*model.User
	calls int
}

func (s *stubAuthenticator) Authenticate(_ context.Context, token string) (*model.User, error) {
	s.calls++
	if u, ok := s.users[token]; ok {
		return u, nil
	}
	return nil, errors.New("invalid token")
}

func newAuthRouter(m *AuthMiddleware, extra ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers := append([]gin.HandlerFunc{AuditActor(), m.Authenticate()}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		actor := audit.ActorFromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"user_id": actor.UserID, "ip": actor.IPAddress})
	})
	r.GET("/protected", handlers...)
	return r
}

func get(r http.Handler, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthenticate(t *testing.T) {
	admin := &model.User{ID: uuid.New(), Username: "admin", Role: model.RoleAdmin}
	stub := &stubAuthenticator{users: map[string]*model.User{"good": admin}}
	r := newAuthRouter(NewAuthMiddleware(stub, 0, logger.Nop()))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"unknown token", "Bearer bad", http.StatusUnauthorized},
		{"valid token", "Bearer good", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(r, tt.header)
			assert.Equal(t, tt.want, w.Code)
		})
	}

	w := get(r, "Bearer good")
	assert.Contains(t, w.Body.String(), admin.ID.String())
}

func TestAuthenticateCachesUsers(t *testing.T) {
	user := &model.User{ID: uuid.New(), Role: model.RoleUser}
	stub := &stubAuthenticator{users: map[string]*model.User{"tok": user}}
	m := NewAuthMiddleware(stub, time.Minute, logger.Nop())
	r := newAuthRouter(m)

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, get(r, "Bearer tok").Code)
	}
	assert.Equal(t, 1, stub.calls)

	m.Flush()
	require.Equal(t, http.StatusOK, get(r, "Bearer tok").Code)
	assert.Equal(t, 2, stub.calls)
}

func TestAuthenticateRejectsCachedUserAfterExpiry(t *testing.T) {
	expiry := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	user := &model.User{ID: uuid.New(), Role: model.RoleUser, ExpiresAt: &expiry}
	stub := &stubAuthenticator{users: map[string]*model.User{"tok": user}}
	m := NewAuthMiddleware(stub, time.Hour, logger.Nop())
	m.now = func() time.Time { return expiry.Add(-time.Minute) }
	r := newAuthRouter(m)

	require.Equal(t, http.StatusOK, get(r, "Bearer tok").Code)

	m.now = func() time.Time { return expiry }
	assert.Equal(t, http.StatusUnauthorized, get(r, "Bearer tok").Code)
}

func TestRequireRole(t *testing.T) {
	stub := &stubAuthenticator{users: map[string]*model.User{
		"admin": {ID: uuid.New(), Role: model.RoleAdmin},
		"user":  {ID: uuid.New(), Role: model.RoleUser},
	}}
	m := NewAuthMiddleware(stub, 0, logger.Nop())
	r := newAuthRouter(m, m.RequireRole(model.RoleAdmin))

	assert.Equal(t, http.StatusOK, get(r, "Bearer admin").Code)
	assert.Equal(t, http.StatusForbidden, get(r, "Bearer user").Code)
}

func TestRequireRoleWithoutAuthentication(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewAuthMiddleware(&stubAuthenticator{}, 0, logger.Nop())
	r := gin.New()
	r.GET("/protected", m.RequireRole(model.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusUnauthorized, get(r, "").Code)
}

func TestInvalidateOnWrite(t *testing.T) {
	user := &model.User{ID: uuid.New(), Role: model.RoleAdmin}
	stub := &stubAuthenticator{users: map[string]*model.User{"tok": user}}
	m := NewAuthMiddleware(stub, time.Hour, logger.Nop())

	gin.SetMode(gin.TestMode)
	r := gin.New()
	users := r.Group("/users", m.Authenticate(), m.InvalidateOnWrite())
	users.GET("", func(c *gin.Context) { c.Status(http.StatusOK) })
	users.DELETE("/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(method, path string) {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("Authorization", "Bearer tok")
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	do(http.MethodGet, "/users")
	do(http.MethodGet, "/users")
	assert.Equal(t, 1, stub.calls)

	do(http.MethodDelete, "/users/1")
	do(http.MethodGet, "/users")
	assert.Equal(t, 2, stub.calls)
}

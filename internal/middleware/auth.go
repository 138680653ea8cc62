package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"

	"github.com/jwalitptl/clinic-records/internal/handler"
	"github.com/jwalitptl/clinic-records/internal/model"
	"github.com/jwalitptl/clinic-records/internal/service/audit"
	"github.com/jwalitptl/clinic-records/pkg/logger"
)

const (
	ContextUser   = "user"
	ContextUserID = "user_id"
	ContextRole   = "role"
)

// Authenticator resolves a bearer token to the account it was issued to.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.User, error)
}

type AuthMiddleware struct {
	auth  Authenticator
	users *gocache.Cache
	log   *logger.Logger
	now   func() time.Time
}

// NewAuthMiddleware caches resolved users for ttl. A zero ttl disables the
// cache so every request hits the user store.
func NewAuthMiddleware(auth Authenticator, ttl time.Duration, log *logger.Logger) *AuthMiddleware {
	m := &AuthMiddleware{auth: auth, log: log, now: time.Now}
	if ttl > 0 {
		m.users = gocache.New(ttl, 2*ttl)
	}
	return m
}

// Authenticate verifies the bearer token and puts the user in both the gin
// context and the audit actor of the request context.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing authorization header"))
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid authorization format"))
			c.Abort()
			return
		}

		user, err := m.resolve(c.Request.Context(), strings.TrimSpace(parts[1]))
		if err != nil {
			m.log.Debug("authentication rejected", "path", c.FullPath(), "error", err.Error())
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid token"))
			c.Abort()
			return
		}

		c.Set(ContextUser, user)
		c.Set(ContextUserID, user.ID)
		c.Set(ContextRole, user.Role)

		actor := audit.ActorFromContext(c.Request.Context())
		id := user.ID
		actor.UserID = &id
		if actor.IPAddress == "" {
			actor.IPAddress = c.ClientIP()
		}
		if actor.UserAgent == "" {
			actor.UserAgent = c.Request.UserAgent()
		}
		c.Request = c.Request.WithContext(audit.WithActor(c.Request.Context(), actor))

		c.Next()
	}
}

func (m *AuthMiddleware) resolve(ctx context.Context, token string) (*model.User, error) {
	if m.users != nil {
		if cached, ok := m.users.Get(token); ok {
			user := cached.(*model.User)
			if !user.IsExpired(m.now()) {
				return user, nil
			}
			m.users.Delete(token)
			return nil, model.ErrAccountExpired
		}
	}

	user, err := m.auth.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	if m.users != nil {
		m.users.SetDefault(token, user)
	}
	return user, nil
}

// RequireRole rejects authenticated users whose role differs from role.
func (m *AuthMiddleware) RequireRole(role model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, ok := c.Get(ContextUser)
		if !ok {
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("authentication required"))
			c.Abort()
			return
		}

		user := value.(*model.User)
		if user.Role != role {
			c.JSON(http.StatusForbidden, handler.NewErrorResponse("insufficient permissions"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// Flush drops every cached user, e.g. after a password change.
func (m *AuthMiddleware) Flush() {
	if m.users != nil {
		m.users.Flush()
	}
}

// InvalidateOnWrite flushes the user cache after a successful write, so a
// deleted account or changed password stops authenticating immediately.
func (m *AuthMiddleware) InvalidateOnWrite() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if c.Request.Method != http.MethodGet && c.Writer.Status() < http.StatusBadRequest {
			m.Flush()
		}
	}
}

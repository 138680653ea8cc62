package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/clinic-records/internal/service/audit"
	apperrors "github.com/jwalitptl/clinic-records/pkg/errors"
	"github.com/jwalitptl/clinic-records/pkg/logger"
)

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	return r
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequestID(t *testing.T) {
	r := newEngine(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(ContextRequestID)) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	generated := w.Header().Get(HeaderXRequestID)
	assert.Len(t, generated, 36)
	assert.Equal(t, generated, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderXRequestID, "abc-123")
	assert.Equal(t, "abc-123", serve(r, req).Header().Get(HeaderXRequestID))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderXRequestID, strings.Repeat("x", 200))
	assert.Len(t, serve(r, req).Header().Get(HeaderXRequestID), 36)
}

func TestRecovery(t *testing.T) {
	r := newEngine(Recovery(logger.Nop()))
	r.GET("/", func(c *gin.Context) { panic("boom") })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"status":"error","message":"Internal server error"}`, w.Body.String())
}

func TestErrorHandlerWritesUnansweredErrors(t *testing.T) {
	r := newEngine(ErrorHandler())
	r.GET("/missing", func(c *gin.Context) { _ = c.Error(apperrors.NotFound("patient", nil)) })
	r.GET("/answered", func(c *gin.Context) {
		_ = c.Error(errors.New("already handled"))
		c.JSON(http.StatusTeapot, gin.H{})
	})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"error"`)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/answered", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestRateLimitPerClient(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: rate.Every(time.Hour), Burst: 2})
	r := newEngine(rl.RateLimit())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	from := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":1234"
		return serve(r, req).Code
	}

	assert.Equal(t, http.StatusOK, from("10.0.0.1"))
	assert.Equal(t, http.StatusOK, from("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, from("10.0.0.1"))
	assert.Equal(t, http.StatusOK, from("10.0.0.2"))
}

func TestTimeout(t *testing.T) {
	r := newEngine(Timeout(TimeoutConfig{Duration: 20 * time.Millisecond}))
	r.GET("/slow", func(c *gin.Context) { <-c.Request.Context().Done() })
	r.GET("/fast", func(c *gin.Context) {
		_, hasDeadline := c.Request.Context().Deadline()
		assert.True(t, hasDeadline)
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusGatewayTimeout, serve(r, httptest.NewRequest(http.MethodGet, "/slow", nil)).Code)
	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/fast", nil)).Code)
}

func TestTimeoutSkipsConfiguredRoutes(t *testing.T) {
	r := newEngine(Timeout(TimeoutConfig{Duration: time.Millisecond, SkipPaths: []string{"/restore"}}))
	r.GET("/restore", func(c *gin.Context) {
		_, hasDeadline := c.Request.Context().Deadline()
		assert.False(t, hasDeadline)
		c.Status(http.StatusOK)
	})
	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/restore", nil)).Code)
}

func TestSizeLimit(t *testing.T) {
	cfg := DefaultSizeLimitConfig()
	cfg.MaxBodySize = 16
	cfg.SkipPaths = []string{"/upload"}
	r := newEngine(SizeLimit(cfg))
	read := func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	}
	r.POST("/data", read)
	r.POST("/upload", read)

	body := strings.Repeat("a", 64)
	assert.Equal(t, http.StatusRequestEntityTooLarge,
		serve(r, httptest.NewRequest(http.MethodPost, "/data", strings.NewReader(body))).Code)
	assert.Equal(t, http.StatusOK,
		serve(r, httptest.NewRequest(http.MethodPost, "/data", strings.NewReader("small"))).Code)
	assert.Equal(t, http.StatusOK,
		serve(r, httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(body))).Code)

	// no declared length; the capped reader catches it
	req := httptest.NewRequest(http.MethodPost, "/data", io.NopCloser(strings.NewReader(body)))
	req.ContentLength = -1
	assert.Equal(t, http.StatusRequestEntityTooLarge, serve(r, req).Code)
}

func TestSecurityAndCacheHeaders(t *testing.T) {
	r := newEngine(SecurityHeaders(DefaultSecurityConfig()), Cache(DefaultCacheConfig()))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "max-age=31536000; includeSubDomains", w.Header().Get("Strict-Transport-Security"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "private, no-store", w.Header().Get("Cache-Control"))

	w = serve(r, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestCacheMaxAge(t *testing.T) {
	assert.Equal(t, "public, max-age=60, must-revalidate",
		CacheConfig{MaxAge: 60, MustRevalidate: true}.directives())
}

func TestCORS(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowOrigins = []string{"https://clinic.example"}
	r := newEngine(CORS(cfg))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://clinic.example")
	w := serve(r, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://clinic.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSWildcardWithCredentialsEchoesOrigin(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowCredentials = true
	assert.Equal(t, "https://a.example", cfg.allowedOrigin("https://a.example"))

	cfg.AllowCredentials = false
	assert.Equal(t, "*", cfg.allowedOrigin("https://a.example"))
}

func TestRegisterValidatorsUsesJSONNames(t *testing.T) {
	require.NoError(t, RegisterValidators(ValidationConfig{}))

	type body struct {
		FullName string `json:"full_name" binding:"required"`
	}
	r := newEngine()
	r.POST("/", func(c *gin.Context) {
		var b body
		err := c.ShouldBindJSON(&b)
		require.Error(t, err)
		c.String(http.StatusBadRequest, err.Error())
	})

	w := serve(r, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`)))
	assert.Contains(t, w.Body.String(), "full_name")
}

func TestAuditActorSetsAddress(t *testing.T) {
	r := newEngine(AuditActor())
	var got context.Context
	r.GET("/", func(c *gin.Context) {
		got = c.Request.Context()
		c.Status(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	req.Header.Set("User-Agent", "clinic-test")
	serve(r, req)

	require.NotNil(t, got)
	actor := audit.ActorFromContext(got)
	assert.Equal(t, "192.0.2.7", actor.IPAddress)
	assert.Equal(t, "clinic-test", actor.UserAgent)
	assert.Nil(t, actor.UserID)
}

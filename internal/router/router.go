package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/clinic-records/internal/handler/prometheus"
	"github.com/jwalitptl/clinic-records/internal/middleware"
	"github.com/jwalitptl/clinic-records/internal/model"
	"github.com/jwalitptl/clinic-records/pkg/logger"
)

const apiPrefix = "/api/v1"

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

// Handlers groups the route sets by the access they require.
type Handlers struct {
	Health  Handler
	Auth    Handler
	Patient Handler
	Import  Handler
	Audit   Handler
	User    Handler
	Backup  Handler
}

type RouterConfig struct {
	RateLimit   rate.Limit
	RateBurst   int
	CORSConfig  middleware.CORSConfig
	Timeout     time.Duration
	MaxBodySize int64
}

type Router struct {
	engine   *gin.Engine
	auth     *middleware.AuthMiddleware
	handlers Handlers
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	handlers Handlers,
	metrics *prometheus.Handler,
	log *logger.Logger,
	config RouterConfig,
) *Router {
	engine := gin.New()

	sizeLimit := middleware.DefaultSizeLimitConfig()
	if config.MaxBodySize > 0 {
		sizeLimit.MaxBodySize = config.MaxBodySize
	}
	// uploads and restores enforce their own limits
	sizeLimit.SkipPaths = []string{apiPrefix + "/patients/import"}
	longRunning := []string{
		apiPrefix + "/patients/import",
		apiPrefix + "/backups",
		apiPrefix + "/backups/restore",
	}

	timeout := middleware.DefaultTimeoutConfig()
	if config.Timeout > 0 {
		timeout.Duration = config.Timeout
	}
	timeout.SkipPaths = longRunning

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:  config.RateLimit,
		Burst: config.RateBurst,
	})

	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(log),
		middleware.Logger(log),
		metrics.Middleware(),
		middleware.ErrorHandler(),
		middleware.SecurityHeaders(middleware.DefaultSecurityConfig()),
		middleware.CORS(config.CORSConfig),
		rateLimiter.RateLimit(),
		middleware.SizeLimit(sizeLimit),
		middleware.Timeout(timeout),
		middleware.AuditActor(),
	)

	return &Router{
		engine:   engine,
		auth:     auth,
		handlers: handlers,
	}
}

func (r *Router) Setup() {
	api := r.engine.Group(apiPrefix)

	r.handlers.Health.RegisterRoutes(api)
	r.handlers.Auth.RegisterRoutes(api)

	protected := api.Group("")
	protected.Use(
		r.auth.Authenticate(),
		middleware.Cache(middleware.DefaultCacheConfig()),
	)
	r.handlers.Patient.RegisterRoutes(protected)
	r.handlers.Import.RegisterRoutes(protected)
	r.handlers.Audit.RegisterRoutes(protected)

	admin := protected.Group("")
	admin.Use(r.auth.RequireRole(model.RoleAdmin), r.auth.InvalidateOnWrite())
	r.handlers.User.RegisterRoutes(admin)
	r.handlers.Backup.RegisterRoutes(admin)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

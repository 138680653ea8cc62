package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-records/internal/service/audit"
)

// AuditActor records the caller's address and user agent on the request
// context so audit entries written before authentication still carry them.
func AuditActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := audit.ActorFromContext(c.Request.Context())
		actor.IPAddress = c.ClientIP()
		actor.UserAgent = c.Request.UserAgent()
		c.Request = c.Request.WithContext(audit.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

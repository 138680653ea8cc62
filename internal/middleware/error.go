package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-records/internal/handler"
	"github.com/jwalitptl/clinic-records/pkg/httputil"
)

// ErrorHandler answers requests whose handler recorded an error with
// c.Error but never wrote a response.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		c.JSON(httputil.StatusFor(err), handler.NewErrorResponse(httputil.MessageFor(err)))
	}
}

package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-records/internal/model"
	"github.com/jwalitptl/clinic-records/pkg/httputil"
	"github.com/jwalitptl/clinic-records/pkg/logger"
)

type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Status: "success",
		Data:   data,
	}
}

func NewErrorResponse(message string) *Response {
	return &Response{
		Status:  "error",
		Message: message,
	}
}

// RespondError writes err with the status its AppError code maps to.
// Unexpected errors are logged and reported as internal.
func RespondError(c *gin.Context, log *logger.Logger, err error) {
	status := httputil.StatusFor(err)
	message := httputil.MessageFor(err)

	switch {
	case errors.Is(err, model.ErrInvalidCredentials):
		status, message = http.StatusUnauthorized, "Invalid username or password"
	case errors.Is(err, model.ErrAccountExpired):
		status, message = http.StatusForbidden, "Account has expired"
	}

	if status >= http.StatusInternalServerError {
		log.Error(err, "request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"request_id", c.GetString("request_id"),
		)
	}
	_ = c.Error(err)
	c.JSON(status, NewErrorResponse(message))
}

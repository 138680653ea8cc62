package audit

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-records/internal/handler"
	"github.com/jwalitptl/clinic-records/internal/model"
	"github.com/jwalitptl/clinic-records/pkg/logger"
)

type Lister interface {
	ListRecent(ctx context.Context, filter *model.AuditFilter) ([]*model.AuditLogView, error)
}

type Handler struct {
	service Lister
	log     *logger.Logger
}

func NewHandler(service Lister, log *logger.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	audit := r.Group("/audit")
	{
		audit.GET("/logs", h.ListLogs)
	}
}

// ListLogs returns the latest entries, newest first.
func (h *Handler) ListLogs(c *gin.Context) {
	var filter model.AuditFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	logs, err := h.service.ListRecent(c.Request.Context(), &filter)
	if err != nil {
		handler.RespondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(logs))
}

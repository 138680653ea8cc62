package backup

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-records/internal/handler"
	"github.com/jwalitptl/clinic-records/internal/model"
	"github.com/jwalitptl/clinic-records/pkg/logger"
)

// Service is satisfied by *backup.Service.
type Service interface {
	PerformBackup(ctx context.Context) (*model.BackupResult, error)
	ListBackups(ctx context.Context) ([]model.BackupArtifact, error)
	PruneOldBackups(ctx context.Context) (*model.RetentionResult, error)
	RestoreFromBackup(ctx context.Context, key string) (*model.RestoreResult, error)
}

type Handler struct {
	service Service
	log     *logger.Logger
}

func NewHandler(service Service, log *logger.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log,
	}
}

// RegisterRoutes expects r to be restricted to admins already.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	backups := r.Group("/backups")
	{
		backups.GET("", h.ListBackups)
		backups.POST("", h.PerformBackup)
		backups.POST("/restore", h.Restore)
		backups.POST("/prune", h.Prune)
	}
}

func (h *Handler) ListBackups(c *gin.Context) {
	artifacts, err := h.service.ListBackups(c.Request.Context())
	if err != nil {
		handler.RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(artifacts))
}

func (h *Handler) PerformBackup(c *gin.Context) {
	result, err := h.service.PerformBackup(c.Request.Context())
	if err != nil {
		handler.RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(result))
}

func (h *Handler) Restore(c *gin.Context) {
	var req model.RestoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	result, err := h.service.RestoreFromBackup(c.Request.Context(), req.BackupKey)
	if err != nil {
		handler.RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(result))
}

func (h *Handler) Prune(c *gin.Context) {
	result, err := h.service.PruneOldBackups(c.Request.Context())
	if err != nil {
		handler.RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(result))
}

package patient

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-records/internal/handler"
	"github.com/jwalitptl/clinic-records/internal/model"
	"github.com/jwalitptl/clinic-records/internal/service/patient"
	"github.com/jwalitptl/clinic-records/pkg/httputil"
	"github.com/jwalitptl/clinic-records/pkg/logger"
)

type Handler struct {
	service patient.PatientService
	log     *logger.Logger
}

func NewHandler(service patient.PatientService, log *logger.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	patients := r.Group("/patients")
	{
		patients.POST("", h.CreatePatient)
		patients.GET("", h.ListPatients)
		patients.GET("/:id", h.GetPatient)
		patients.PUT("/:id", h.UpdatePatient)
		patients.DELETE("/:id", h.DeletePatient)
		patients.PUT("/:id/identifier", h.ChangeIdentifier)
	}
}

func (h *Handler) CreatePatient(c *gin.Context) {
	var req model.CreatePatientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	p, err := h.service.CreatePatient(c.Request.Context(), &req)
	if err != nil {
		handler.RespondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(p))
}

func (h *Handler) GetPatient(c *gin.Context) {
	p, err := h.service.GetPatient(c.Request.Context(), c.Param("id"))
	if err != nil {
		handler.RespondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(p))
}

func (h *Handler) ListPatients(c *gin.Context) {
	var filter model.PatientFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}
	filter.Search = strings.TrimSpace(filter.Search)
	filter.Pagination = filter.Pagination.Normalize()

	patients, total, err := h.service.ListPatients(c.Request.Context(), &filter)
	if err != nil {
		handler.RespondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(
		httputil.NewPaginatedResponse(patients, filter.Page, filter.PageSize, total),
	))
}

func (h *Handler) UpdatePatient(c *gin.Context) {
	var req model.UpdatePatientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	p, err := h.service.UpdatePatient(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		handler.RespondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(p))
}

func (h *Handler) DeletePatient(c *gin.Context) {
	if err := h.service.DeletePatient(c.Request.Context(), c.Param("id")); err != nil {
		handler.RespondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"deleted": c.Param("id")}))
}

// ChangeIdentifier renames a patient; the old id is in the path.
func (h *Handler) ChangeIdentifier(c *gin.Context) {
	var req model.ChangeIdentifierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	oldID := c.Param("id")
	newID := strings.TrimSpace(req.NewID)
	if _, err := h.service.ChangeIdentifier(c.Request.Context(), oldID, newID); err != nil {
		handler.RespondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{
		"old_id": oldID,
		"new_id": newID,
	}))
}

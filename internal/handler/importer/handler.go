package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-records/internal/handler"
	"github.com/jwalitptl/clinic-records/internal/model"
	"github.com/jwalitptl/clinic-records/internal/service/importer"
	"github.com/jwalitptl/clinic-records/pkg/logger"
)

const formField = "file"

// FileImporter is satisfied by *importer.Service.
type FileImporter interface {
	ImportFile(ctx context.Context, filename string, r io.Reader) (*model.ImportReport, error)
}

type Handler struct {
	service FileImporter
	maxSize int64
	log     *logger.Logger
}

func NewHandler(service FileImporter, maxSize int64, log *logger.Logger) *Handler {
	return &Handler{
		service: service,
		maxSize: maxSize,
		log:     log,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/patients/import", h.Import)
}

// Import reads a multipart upload and reconciles its rows into patients.
func (h *Handler) Import(c *gin.Context) {
	if h.maxSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxSize)
	}

	fh, err := c.FormFile(formField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			c.JSON(http.StatusRequestEntityTooLarge, handler.NewErrorResponse(
				fmt.Sprintf("file exceeds the %d byte upload limit", h.maxSize)))
			return
		}
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("No file uploaded"))
		return
	}
	if !importer.SupportedFile(fh.Filename) {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(importer.ErrUnsupportedFormat.Error()))
		return
	}

	f, err := fh.Open()
	if err != nil {
		handler.RespondError(c, h.log, fmt.Errorf("failed to open upload: %w", err))
		return
	}
	defer f.Close()

	report, err := h.service.ImportFile(c.Request.Context(), fh.Filename, f)
	switch {
	case err != nil && report == nil:
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	case err != nil:
		h.log.Warn("import interrupted", "file", fh.Filename, "error", err.Error())
		c.JSON(http.StatusOK, &handler.Response{
			Status:  "success",
			Message: "Import interrupted before all rows were processed",
			Data:    report,
		})
		return
	}

	c.JSON(http.StatusOK, &handler.Response{
		Status:  "success",
		Message: fmt.Sprintf("Imported %d rows, %d failed", report.Success(), report.Failed),
		Data:    report,
	})
}

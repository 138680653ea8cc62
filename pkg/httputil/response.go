package httputil

import (
	"net/http"

	"github.com/jwalitptl/clinic-records/pkg/errors"
)

// Pagination represents pagination metadata
type Pagination struct {
	Page      int `json:"page"`
	PageSize  int `json:"page_size"`
	Total     int `json:"total"`
	TotalPage int `json:"total_pages"`
}

// PaginatedResponse wraps paginated data
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Pagination Pagination  `json:"pagination"`
}

func NewPaginatedResponse(data interface{}, page, pageSize, total int) PaginatedResponse {
	totalPages := 0
	if pageSize > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}
	return PaginatedResponse{
		Data: data,
		Pagination: Pagination{
			Page:      page,
			PageSize:  pageSize,
			Total:     total,
			TotalPage: totalPages,
		},
	}
}

// StatusFor maps an error onto an HTTP status. Errors without an AppError
// in their chain are internal.
func StatusFor(err error) int {
	if appErr, ok := errors.As(err); ok {
		return appErr.StatusCode()
	}
	return http.StatusInternalServerError
}

// MessageFor returns the client-safe message for err.
func MessageFor(err error) string {
	if appErr, ok := errors.As(err); ok && appErr.Code != errors.ErrInternal {
		return appErr.Message
	}
	return "Internal server error"
}

package patient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-records/internal/model"
	"github.com/jwalitptl/clinic-records/internal/repository/memory"
	"github.com/jwalitptl/clinic-records/internal/service/audit"
	"github.com/jwalitptl/clinic-records/internal/service/patient"
	"github.com/jwalitptl/clinic-records/pkg/logger"
)

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, model.AuditAction, string, string, *audit.LogOptions) {}

func setup(t *testing.T) (*gin.Engine, *memory.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore("patients")
	require.NoError(t, store.Patients().Create(context.Background(), &model.Patient{ID: "1111111", FirstName: "Ann", LastName: "Lee"}))
	require.NoError(t, store.Patients().Create(context.Background(), &model.Patient{ID: "2222222", FirstName: "Bob", LastName: "Tran"}))

	svc := patient.NewService(store.Patients(), store, nopRecorder{}, logger.Nop())
	r := gin.New()
	NewHandler(svc, logger.Nop()).RegisterRoutes(r.Group("/api/v1"))
	return r, store
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestChangeIdentifierEndpoint(t *testing.T) {
	r, store := setup(t)

	w := do(r, http.MethodPut, "/api/v1/patients/1111111/identifier", `{"new_id":"3333333"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	_, err := store.Patients().Get(context.Background(), "3333333")
	assert.NoError(t, err)

	w = do(r, http.MethodPut, "/api/v1/patients/3333333/identifier", `{"new_id":"2222222"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodPut, "/api/v1/patients/9999999/identifier", `{"new_id":"4444444"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPut, "/api/v1/patients/3333333/identifier", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateAndGetPatient(t *testing.T) {
	r, _ := setup(t)

	w := do(r, http.MethodPost, "/api/v1/patients", `{"id":"5555555","first_name":"Cat","balance":"12.345"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(r, http.MethodPost, "/api/v1/patients", `{"id":"5555555","first_name":"Dup"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodGet, "/api/v1/patients/5555555", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Status string `json:"status"`
		Data   struct {
			ID      string `json:"id"`
			Balance string `json:"balance"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "5555555", resp.Data.ID)
	assert.Equal(t, "12.35", resp.Data.Balance)

	w = do(r, http.MethodGet, "/api/v1/patients/0000000", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListPatientsSearch(t *testing.T) {
	r, _ := setup(t)

	w := do(r, http.MethodGet, "/api/v1/patients?search=lee&page=1&page_size=10", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			Data       []model.Patient `json:"data"`
			Pagination struct {
				Total int `json:"total"`
			} `json:"pagination"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Data.Pagination.Total)
	require.Len(t, resp.Data.Data, 1)
	assert.Equal(t, "1111111", resp.Data.Data[0].ID)
}

func TestUpdateAndDeletePatient(t *testing.T) {
	r, store := setup(t)

	w := do(r, http.MethodPut, "/api/v1/patients/2222222", `{"diagnosis":"asthma"}`)
	require.Equal(t, http.StatusOK, w.Code)
	p, err := store.Patients().Get(context.Background(), "2222222")
	require.NoError(t, err)
	assert.Equal(t, "asthma", p.Diagnosis)

	w = do(r, http.MethodDelete, "/api/v1/patients/2222222", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, store.Count("patients"))
}

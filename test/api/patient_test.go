//go:build integration

package api_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatientFlow(t *testing.T) {
	patientID = createTestPatient(t, "Lan")
	require.NotEmpty(t, patientID)

	getResp := makeRequest("GET", fmt.Sprintf("/patients/%s", patientID), nil, authToken)
	require.True(t, getResp.IsSuccess(), getResp.Message)
	assert.Equal(t, "Lan", getResp.Data["first_name"])
	assert.Equal(t, "female", getResp.Data["gender"])

	updResp := makeRequest("PUT", fmt.Sprintf("/patients/%s", patientID), map[string]interface{}{
		"diagnosis": "Hypertension",
	}, authToken)
	require.True(t, updResp.IsSuccess(), updResp.Message)
	assert.Equal(t, "Hypertension", updResp.Data["diagnosis"])
	assert.Equal(t, "Lan", updResp.Data["first_name"])

	newID := uniqueID("NEW")
	chResp := makeRequest("PUT", fmt.Sprintf("/patients/%s/identifier", patientID), map[string]interface{}{
		"new_id": newID,
	}, authToken)
	require.True(t, chResp.IsSuccess(), chResp.Message)
	old := patientID
	patientID = newID

	missing := makeRequest("GET", fmt.Sprintf("/patients/%s", old), nil, authToken)
	assert.Equal(t, http.StatusNotFound, missing.Code)

	auditResp := makeRequest("GET", "/audit/logs?resource_type=patient", nil, authToken)
	assert.True(t, auditResp.IsSuccess(), auditResp.Message)
}

func TestPatientsRequireToken(t *testing.T) {
	resp := makeRequest("GET", "/patients", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestImportCSV(t *testing.T) {
	id := uniqueID("UHID")
	resp := uploadCSV(t, "patients.csv", "UHID,FullName,Gender\n"+id+",Tran Thi Mai,F\n,,\n")
	require.True(t, resp.IsSuccess(), resp.Message)

	// identifiers keep their last seven characters
	created := makeRequest("GET", fmt.Sprintf("/patients/%s", id[len(id)-7:]), nil, authToken)
	if assert.True(t, created.IsSuccess(), created.Message) {
		makeRequest("DELETE", fmt.Sprintf("/patients/%s", created.GetString("id")), nil, authToken)
	}
}

func TestImportRejectsUnknownExtension(t *testing.T) {
	resp := uploadCSV(t, "patients.txt", "UHID,FullName\n1,A\n")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

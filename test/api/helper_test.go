//go:build integration

package api_test

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"
	"time"
)

// uniqueID fits the 32-character identifier column.
func uniqueID(prefix string) string {
	return fmt.Sprintf("%s%d", prefix, time.Now().UnixNano()%1_000_000_000)
}

func createTestPatient(t *testing.T, firstName string) string {
	resp := makeRequest("POST", "/patients", map[string]interface{}{
		"id":           uniqueID("IT"),
		"first_name":   firstName,
		"last_name":    "Integration",
		"age":          41,
		"gender":       "F",
		"phone_number": "0901234567",
	}, authToken)

	if !resp.IsSuccess() {
		t.Fatalf("Failed to create test patient: %s", resp.Message)
	}
	return resp.GetString("id")
}

func uploadCSV(t *testing.T, filename, content string) TestResponse {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	req, err := http.NewRequest("POST", baseURL+"/patients/import", strings.NewReader(body.String()))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+authToken)
	return do(req)
}

package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthCheckHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheckHandler("interview-assistant")(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if status.Status != "healthy" || status.Service != "interview-assistant" {
		t.Errorf("Unexpected health status %+v", status)
	}
}

func TestReadinessHandler(t *testing.T) {
	ok := func(ctx context.Context) (bool, error) { return true, nil }
	failing := func(ctx context.Context) (bool, error) { return false, errors.New("database is locked") }

	tests := []struct {
		name   string
		checks map[string]HealthCheckFunc
		code   int
		status string
	}{
		{"no checks", nil, http.StatusOK, "ready"},
		{"all healthy", map[string]HealthCheckFunc{"records": ok, "gemini": ok}, http.StatusOK, "ready"},
		{"one failing", map[string]HealthCheckFunc{"records": failing, "gemini": ok}, http.StatusServiceUnavailable, "not_ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ReadinessHandler("interview-assistant", tt.checks)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if rec.Code != tt.code {
				t.Errorf("Expected status %d, got %d", tt.code, rec.Code)
			}
			var status HealthStatus
			if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
				t.Fatalf("Failed to decode body: %v", err)
			}
			if status.Status != tt.status {
				t.Errorf("Expected %q, got %q", tt.status, status.Status)
			}
			if len(status.Dependencies) != len(tt.checks) {
				t.Errorf("Expected %d dependencies, got %d", len(tt.checks), len(status.Dependencies))
			}
		})
	}
}

func TestReadinessHandler_FailureMessage(t *testing.T) {
	checks := map[string]HealthCheckFunc{
		"records": func(ctx context.Context) (bool, error) { return false, errors.New("database is locked") },
	}
	rec := httptest.NewRecorder()
	ReadinessHandler("interview-assistant", checks)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	var status HealthStatus
	_ = json.NewDecoder(rec.Body).Decode(&status)
	dep := status.Dependencies["records"]
	if dep.Status != "unhealthy" || dep.Message != "database is locked" {
		t.Errorf("Unexpected dependency status %+v", dep)
	}
}

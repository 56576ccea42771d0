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
	req := httptest.NewRequest(http.MethodGet, "/health", nil)

	HealthCheckHandler()(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}
}

func TestReadinessAllHealthy(t *testing.T) {
	checks := map[string]HealthCheckFunc{
		"redis": func(_ context.Context) (bool, error) { return true, nil },
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)

	ReadinessHandler(checks)(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var status HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if status.Status != "ready" {
		t.Errorf("expected ready, got %q", status.Status)
	}
}

func TestReadinessFailureSetsContentType(t *testing.T) {
	checks := map[string]HealthCheckFunc{
		"redis": func(_ context.Context) (bool, error) { return false, errors.New("connection refused") },
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)

	ReadinessHandler(checks)(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json on the 503 response, got %q", ct)
	}
	var status HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if status.Status != "not_ready" {
		t.Errorf("expected not_ready, got %q", status.Status)
	}
	dep := status.Dependencies["redis"]
	if dep.Status != "unhealthy" || dep.Message != "connection refused" {
		t.Errorf("unexpected dependency status: %+v", dep)
	}
}

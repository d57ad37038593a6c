package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthAlwaysOK(t *testing.T) {
	h := NewHealthHandler()

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestReadyBeforeStartup(t *testing.T) {
	h := NewHealthHandler()

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 before SetReady", rec.Code)
	}
}

func TestReadyReportsNamedChecks(t *testing.T) {
	h := NewHealthHandler()
	h.SetReady(true)
	h.AddCheck("backend", HealthCheckFunc(func(ctx context.Context) error {
		return nil
	}))
	h.AddCheck("redis", HealthCheckFunc(func(ctx context.Context) error {
		return errors.New("connection refused")
	}))

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 with a failing check", rec.Code)
	}

	var resp ReadyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
	if resp.Checks["backend"] != "ok" {
		t.Errorf("backend check = %q, want ok", resp.Checks["backend"])
	}
	if resp.Checks["redis"] != "connection refused" {
		t.Errorf("redis check = %q, want the failure message", resp.Checks["redis"])
	}
}

func TestReadyAllHealthy(t *testing.T) {
	h := NewHealthHandler()
	h.SetReady(true)
	h.AddCheck("backend", HealthCheckFunc(func(ctx context.Context) error {
		return nil
	}))

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
)

// HealthChecker is anything that can report reachability of a dependency.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

func (f HealthCheckFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// HealthHandler serves liveness and readiness. Checks are named so /ready
// reports which dependency (backend, redis, realtime channel) is degraded.
type HealthHandler struct {
	mu     sync.RWMutex
	checks map[string]HealthChecker
	ready  atomic.Bool
}

func NewHealthHandler() *HealthHandler {
	h := &HealthHandler{checks: make(map[string]HealthChecker)}
	h.ready.Store(false)
	return h
}

// AddCheck registers a named readiness check.
func (h *HealthHandler) AddCheck(name string, check HealthChecker) {
	h.mu.Lock()
	h.checks[name] = check
	h.mu.Unlock()
}

func (h *HealthHandler) SetReady(ready bool) {
	h.ready.Store(ready)
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
}

func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	h.mu.RLock()
	checks := make(map[string]HealthChecker, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	h.mu.RUnlock()

	results := make(map[string]string)
	allHealthy := true

	if !h.ready.Load() {
		results["app"] = "not ready"
		allHealthy = false
	} else {
		results["app"] = "ok"
	}

	for name, check := range checks {
		if err := check.Ping(r.Context()); err != nil {
			results[name] = err.Error()
			allHealthy = false
		} else {
			results[name] = "ok"
		}
	}

	status := "ok"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ReadyResponse{
		Status: status,
		Checks: results,
	})
}

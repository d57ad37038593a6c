// Package api exposes the service's operational HTTP surface: sync status,
// breaker status, and a manual reconnect trigger. There is no business API
// here; orders and payments live in the hosted backend.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/enviofleett/ordersync/internal/realtime"
	"github.com/enviofleett/ordersync/internal/resilience"
)

// Handler serves sync/breaker status for dashboards and debugging.
type Handler struct {
	managers  map[string]*realtime.Manager
	breakers  *resilience.BreakerSet
	resources []string
	logger    *slog.Logger
}

func NewHandler(
	managers map[string]*realtime.Manager,
	breakers *resilience.BreakerSet,
	resources []string,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		managers:  managers,
		breakers:  breakers,
		resources: resources,
		logger:    logger,
	}
}

type channelStatus struct {
	Status     string     `json:"status"`
	LastUpdate *time.Time `json:"last_update,omitempty"`
}

type breakerStatus struct {
	IsOpen          bool       `json:"is_open"`
	FailureCount    int        `json:"failure_count"`
	LastFailureTime *time.Time `json:"last_failure_time,omitempty"`
}

type statusResponse struct {
	Channels map[string]channelStatus `json:"channels"`
	Breakers map[string]breakerStatus `json:"breakers"`
}

// GetStatus returns the connection status of every sync channel and the state
// of every known circuit breaker.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Channels: make(map[string]channelStatus),
		Breakers: make(map[string]breakerStatus),
	}

	for name, m := range h.managers {
		cs := channelStatus{Status: string(m.Status())}
		if last := m.LastUpdate(); !last.IsZero() {
			cs.LastUpdate = &last
		}
		resp.Channels[name] = cs
	}

	if h.breakers != nil {
		for _, resource := range h.resources {
			status := h.breakers.Status(resource)
			bs := breakerStatus{
				IsOpen:       status.IsOpen,
				FailureCount: status.FailureCount,
			}
			if !status.LastFailureTime.IsZero() {
				bs.LastFailureTime = &status.LastFailureTime
			}
			resp.Breakers[resource] = bs
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// Reconnect forces a named channel to tear down and resubscribe now.
func (h *Handler) Reconnect(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "channel")
	m, ok := h.managers[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown channel"})
		return
	}

	h.logger.Info("manual reconnect requested", "channel", name)
	m.Reconnect()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": string(m.Status())})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

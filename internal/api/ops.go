// Package api exposes the worker's operational HTTP surface: liveness and
// runtime statistics. It carries no task traffic; tasks arrive over the
// broker only.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pagehaul/pagehaul/internal/worker"
)

// StatsSource yields a point-in-time snapshot of worker counters.
type StatsSource interface {
	Stats() worker.Snapshot
}

// SessionSource yields the session pool's occupancy.
type SessionSource interface {
	Live() int
	Idle() int
}

// OpsHandler serves the health and stats endpoints.
type OpsHandler struct {
	stats    StatsSource
	sessions SessionSource
	logger   *slog.Logger
}

// NewOpsHandler creates an OpsHandler backed by the given sources.
func NewOpsHandler(stats StatsSource, sessions SessionSource, logger *slog.Logger) *OpsHandler {
	return &OpsHandler{
		stats:    stats,
		sessions: sessions,
		logger:   logger.With("component", "ops_api"),
	}
}

// NewRouter builds the operational router with standard middleware.
func NewRouter(h *OpsHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)
	r.Get("/stats", h.Stats)

	return r
}

// Health reports process liveness.
func (h *OpsHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		h.logger.Error("failed to write health response", "error", err)
	}
}

// statsResponse is the wire shape of GET /stats.
type statsResponse struct {
	Worker   worker.Snapshot `json:"worker"`
	Sessions sessionStats    `json:"sessions"`
}

type sessionStats struct {
	Live int `json:"live"`
	Idle int `json:"idle"`
}

// Stats reports worker counters and session pool occupancy.
func (h *OpsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Worker: h.stats.Stats(),
		Sessions: sessionStats{
			Live: h.sessions.Live(),
			Idle: h.sessions.Idle(),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode stats response", "error", err)
	}
}

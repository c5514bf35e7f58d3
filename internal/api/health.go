package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const healthCheckTimeout = 5 * time.Second

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// IngestStats reports per-identity ingestion queue statistics.
type IngestStats interface {
	Stats() []map[string]interface{}
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	db       Pinger
	sessions func() []string
	ingest   IngestStats
}

// NewHealthHandler creates a new health handler. sessions and ingest may be nil.
func NewHealthHandler(db Pinger, sessions func() []string, ingest IngestStats) *HealthHandler {
	return &HealthHandler{db: db, sessions: sessions, ingest: ingest}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.db.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.sessions != nil {
		status["active_sessions"] = len(h.sessions())
	}
	if h.ingest != nil {
		status["ingest"] = h.ingest.Stats()
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the detailed health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}

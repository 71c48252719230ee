package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

// HealthHandler serves liveness, readiness and status endpoints.
type HealthHandler struct {
	mode      string
	startedAt time.Time
	checks    map[string]Check
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler. checks are run by Ready.
func NewHealthHandler(mode string, checks map[string]Check, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		mode:      mode,
		startedAt: time.Now().UTC(),
		checks:    checks,
		logger:    logHandler(logger, "health"),
	}
}

// HealthCheck responds with a simple JSON status indicating the server is alive.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready runs every dependency check and answers 503 if any fails.
// GET /api/ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.WarnContext(ctx, "readiness check failed",
				slog.String("check", name),
				slog.String("error", err.Error()),
			)
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	writeJSON(w, status, map[string]any{"checks": results})
}

// Status reports the node's mode and uptime.
// GET /api/status
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"started_at":     h.startedAt.Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/pipeline"
)

// HealthChecker reports liveness of one dependency.
type HealthChecker func(ctx context.Context) error

// HealthHandler aggregates dependency checks into a single endpoint.
type HealthHandler struct {
	queue  *pipeline.Queue
	checks map[string]HealthChecker
	log    zerolog.Logger
}

func NewHealthHandler(queue *pipeline.Queue, log zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		queue:  queue,
		checks: make(map[string]HealthChecker),
		log:    log.With().Str("component", "api.health").Logger(),
	}
}

// AddCheck registers a named dependency check. Nil checkers are ignored so
// callers can pass optional components unconditionally.
func (h *HealthHandler) AddCheck(name string, check HealthChecker) {
	if check != nil {
		h.checks[name] = check
	}
}

// Health serves GET /health. Any failing dependency turns the whole
// response 503 but the body still lists every check individually.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	healthy := true
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.log.Warn().Err(err).Str("dependency", name).Msg("health check failed")
			deps[name] = err.Error()
			healthy = false
		} else {
			deps[name] = "ok"
		}
	}

	status := http.StatusOK
	overall := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}

	WriteJSON(w, status, map[string]any{
		"status":       overall,
		"dependencies": deps,
		"queue":        h.queue.Stats(),
		"time":         time.Now().UTC().Format(time.RFC3339),
	})
}

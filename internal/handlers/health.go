package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const readinessTimeout = 5 * time.Second

// ReadinessCheck reports whether a backing dependency is ready to serve.
type ReadinessCheck func(ctx context.Context) error

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	startTime time.Time
	checks    map[string]ReadinessCheck
}

// NewHealthHandlers constructs health handlers with optional named readiness
// checks.
func NewHealthHandlers() *HealthHandlers {
	return &HealthHandlers{
		startTime: time.Now(),
		checks:    make(map[string]ReadinessCheck),
	}
}

// AddCheck registers a named readiness check. Not safe for concurrent use
// with request handling; register everything before the server starts.
func (h *HealthHandlers) AddCheck(name string, check ReadinessCheck) {
	if h == nil || name == "" || check == nil {
		return
	}
	h.checks[name] = check
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":    "ok",
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Readyz runs every registered check and fails with 503 when any dependency
// is unavailable.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	ready := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			ready = false
			continue
		}
		results[name] = "ok"
	}

	status := http.StatusOK
	payload := map[string]any{
		"status": "ok",
		"checks": results,
	}
	if !ready {
		status = http.StatusServiceUnavailable
		payload["status"] = "unavailable"
	}
	writeJSONResponse(w, status, payload)
}

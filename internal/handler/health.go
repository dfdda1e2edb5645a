package handler

import (
	"context"
	"net/http"
	"time"
)

const readinessTimeout = 5 * time.Second

// Pinger is anything readiness can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// dependency is one readiness check. Only required dependencies can make
// the service unready; optional ones degrade it.
type dependency struct {
	name     string
	pinger   Pinger
	required bool
}

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	deps []dependency
}

// NewHealthHandler checks store under the storeBackend name and, when
// cache is non-nil, Redis as an optional dependency.
func NewHealthHandler(store Pinger, storeBackend string, cache Pinger) *HealthHandler {
	return &HealthHandler{deps: []dependency{
		{name: storeBackend, pinger: store, required: true},
		{name: "redis", pinger: cache},
	}}
}

// HealthResponse is the probe body.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthz reports that the process is serving. GET /healthz
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Readyz pings every dependency. A failing store answers 503; a failing
// Redis answers 200 "degraded" because its features fail open.
// GET /readyz
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	resp := HealthResponse{Status: "ok", Checks: make(map[string]string, len(h.deps))}
	code := http.StatusOK

	for _, d := range h.deps {
		name := d.name
		if name == "" {
			name = "store"
		}
		if d.pinger == nil {
			resp.Checks[name] = "not configured"
			continue
		}

		err := d.pinger.Ping(ctx)
		switch {
		case err == nil:
			resp.Checks[name] = "ok"
		case d.required:
			resp.Checks[name] = "error: " + err.Error()
			resp.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		default:
			resp.Checks[name] = "error: " + err.Error()
			if resp.Status == "ok" {
				resp.Status = "degraded"
			}
		}
	}

	writeJSON(w, code, resp)
}

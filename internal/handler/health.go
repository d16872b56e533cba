package handler

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"
)

// readyCheckTimeout bounds each readiness dependency check.
const readyCheckTimeout = 2 * time.Second

// Pinger is a dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	startTime time.Time
	deps      map[string]Pinger
	mu        sync.RWMutex
	ready     bool
}

// NewHealthHandler creates a new health handler. deps are checked by the
// readiness probe, keyed by the name reported in the response.
func NewHealthHandler(deps map[string]Pinger) *HealthHandler {
	return &HealthHandler{
		startTime: time.Now(),
		deps:      deps,
	}
}

// SetReady marks the service as ready
func (h *HealthHandler) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// IsReady returns the ready status
func (h *HealthHandler) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}

// HealthResponse is the liveness response.
type HealthResponse struct {
	OK        bool   `json:"ok"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadyResponse is the readiness response.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks"`
}

// HandleHealth handles the /health endpoint (liveness probe)
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		OK:        true,
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// HandleReady handles the /ready endpoint (readiness probe)
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.deps)+1)
	allHealthy := true

	if h.IsReady() {
		checks["startup"] = "ok"
	} else {
		checks["startup"] = "not ready"
		allHealthy = false
	}

	names := make([]string, 0, len(h.deps))
	for name := range h.deps {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
		err := h.deps[name].Ping(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			allHealthy = false
			continue
		}
		checks[name] = "ok"
	}

	response := ReadyResponse{
		Status:    "ready",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Checks:    checks,
	}

	status := http.StatusOK
	if !allHealthy {
		response.Status = "not ready"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

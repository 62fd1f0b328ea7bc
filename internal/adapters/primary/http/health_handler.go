package http

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
)

const probeTimeout = 3 * time.Second

// HealthChecker is anything that can be pinged, e.g. *pgxpool.Pool.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Probe is one readiness dependency.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// DatabaseProbe pings db. A nil db always fails.
func DatabaseProbe(db HealthChecker) Probe {
	return Probe{Name: "database", Check: func(ctx context.Context) error {
		if db == nil {
			return errors.New("database not configured")
		}
		return db.Ping(ctx)
	}}
}

// RealtimeStats reports live connection counts.
type RealtimeStats func() map[string]int

// HealthHandler serves liveness, readiness and a detailed status view.
type HealthHandler struct {
	probes   []Probe
	realtime RealtimeStats
	started  time.Time
	version  string
}

// NewHealthHandler creates a health handler. realtime may be nil.
func NewHealthHandler(version string, realtime RealtimeStats, probes ...Probe) *HealthHandler {
	return &HealthHandler{
		probes:   probes,
		realtime: realtime,
		started:  time.Now(),
		version:  version,
	}
}

// ProbeResult is the outcome of a single probe.
type ProbeResult struct {
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

// HealthStatus is the body of every health endpoint.
type HealthStatus struct {
	Status     string                 `json:"status"`
	Time       string                 `json:"time"`
	Version    string                 `json:"version,omitempty"`
	Uptime     string                 `json:"uptime,omitempty"`
	Probes     map[string]ProbeResult `json:"probes,omitempty"`
	Realtime   map[string]int         `json:"realtime,omitempty"`
	Goroutines int                    `json:"goroutines,omitempty"`
}

// RegisterRoutes mounts /health, /health/live and /health/ready.
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.HandleHealth)
	r.Get("/health/live", h.HandleLiveness)
	r.Get("/health/ready", h.HandleReadiness)
}

// HandleLiveness answers as long as the process serves HTTP.
func (h *HealthHandler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{Status: "ok", Time: now()})
}

// HandleReadiness fails with 503 when any probe fails.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	status := h.status(r.Context())
	WriteJSON(w, statusCode(status), status)
}

// HandleHealth is readiness plus realtime counters and runtime figures.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := h.status(r.Context())
	status.Goroutines = runtime.NumGoroutine()
	if h.realtime != nil {
		status.Realtime = h.realtime()
	}
	WriteJSON(w, statusCode(status), status)
}

func (h *HealthHandler) status(ctx context.Context) HealthStatus {
	out := HealthStatus{
		Status:  "ok",
		Time:    now(),
		Version: h.version,
		Uptime:  time.Since(h.started).Round(time.Second).String(),
		Probes:  make(map[string]ProbeResult, len(h.probes)),
	}
	for _, p := range h.probes {
		res := runProbe(ctx, p)
		if !res.OK {
			out.Status = "unavailable"
		}
		out.Probes[p.Name] = res
	}
	return out
}

func runProbe(ctx context.Context, p Probe) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	err := p.Check(ctx)
	res := ProbeResult{OK: err == nil, LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

func statusCode(s HealthStatus) int {
	if s.Status != "ok" {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }

package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mcoot/basequiz/internal/api/response"
	"github.com/mcoot/basequiz/internal/middleware"
	"github.com/mcoot/basequiz/internal/services/cleanup"
)

// Readiness reports whether the peer reaches the shared store
type Readiness interface {
	Ready() bool
}

// CleanupService is the cleanup scheduler as the diagnostics endpoint sees it
type CleanupService interface {
	Running() bool
	RunCycle(ctx context.Context) cleanup.CycleOutcome
}

// LockOwner reports the owner tag of the cleanup lock this peer last took
type LockOwner interface {
	Owner() string
}

// RouterConfig holds configuration for the diagnostics router
type RouterConfig struct {
	Logger   *slog.Logger
	Presence Readiness
	Cleanup  CleanupService
	Lock     LockOwner
	// Gatherer is what /metrics exposes; nil means the default registry
	Gatherer prometheus.Gatherer
}

// HealthResult is the body of /healthz
type HealthResult struct {
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
}

// CleanupStatus is the body of GET /v1/cleanup
type CleanupStatus struct {
	Running   bool   `json:"running"`
	LockOwner string `json:"lockOwner,omitempty"`
}

// CycleResult is the body of POST /v1/cleanup/run
type CycleResult struct {
	Outcome cleanup.CycleOutcome `json:"outcome"`
}

// NewRouter creates the diagnostics router
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.Recovery(cfg.Logger, middleware.DefaultPanicHandler))
	r.Use(middleware.Logging(cfg.Logger))

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", healthHandler(cfg.Presence)).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/cleanup", cleanupStatusHandler(cfg)).Methods(http.MethodGet)
	v1.HandleFunc("/cleanup/run", runCycleHandler(cfg.Cleanup)).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, response.CodeNotFound, "Not found")
	})
	return r
}

// healthHandler reports 503 while the store is unreachable
func healthHandler(p Readiness) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if !p.Ready() {
			response.JSON(w, http.StatusServiceUnavailable, HealthResult{Status: "offline"})
			return
		}
		response.JSON(w, http.StatusOK, HealthResult{Status: "ok", Connected: true})
	}
}

func cleanupStatusHandler(cfg RouterConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, http.StatusOK, CleanupStatus{
			Running:   cfg.Cleanup.Running(),
			LockOwner: cfg.Lock.Owner(),
		})
	}
}

// runCycleHandler runs one cycle now. It shares the scheduler's guard, so it
// reports "skipped" while a scheduled cycle is running.
func runCycleHandler(c CleanupService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusOK, CycleResult{Outcome: c.RunCycle(r.Context())})
	}
}

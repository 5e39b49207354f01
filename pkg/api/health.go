package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/karapace-operator/pkg/metrics"
	"github.com/cuemby/karapace-operator/pkg/types"
	"github.com/go-chi/chi/v5"
)

// StatusSource reports the replica status
type StatusSource interface {
	Status() types.Status
	Unit() string
	IsLeader() bool
	Version() string
}

// HealthServer provides HTTP health check endpoints
type HealthServer struct {
	source StatusSource
	router chi.Router
}

// NewHealthServer creates the health endpoints. source may be nil until
// the reconciler is running.
func NewHealthServer(source StatusSource) *HealthServer {
	hs := &HealthServer{
		source: source,
		router: chi.NewRouter(),
	}

	hs.Register(hs.router)
	return hs
}

// Register adds the health routes to r
func (hs *HealthServer) Register(r chi.Router) {
	r.Get("/health", hs.healthHandler)
	r.Get("/ready", hs.readyHandler)
	r.Get("/live", metrics.LivenessHandler())
	r.Handle("/metrics", metrics.Handler())
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler is the liveness check: 200 while the process serves
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   metrics.GetHealth().Version,
	}
	if hs.source != nil && hs.source.Version() != "" {
		response.Version = hs.source.Version()
	}

	writeJSON(w, http.StatusOK, response)
}

// readyHandler is ready when the replica is ACTIVE and its critical
// components are healthy
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if hs.source != nil {
		status := hs.source.Status()
		checks["replica"] = status.Name
		if !status.IsActive() {
			ready = false
			message = status.String()
		}
		if hs.source.IsLeader() {
			checks["leader"] = hs.source.Unit()
		}
	} else {
		checks["replica"] = "not initialized"
		ready = false
		message = "Reconciler not initialized"
	}

	readiness := metrics.GetReadiness()
	for name, state := range readiness.Components {
		checks[name] = state
	}
	if readiness.Status != "ready" {
		ready = false
		if message == "" {
			message = readiness.Message
		}
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	})
}

// GetHandler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.router
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

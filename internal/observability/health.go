package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"
)

// Version is reported by the health endpoints
const Version = "1.0.0"

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status       string                      `json:"status"`
	Service      string                      `json:"service"`
	Version      string                      `json:"version"`
	Timestamp    string                      `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the status of a dependency
type DependencyStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

// HealthCheckFunc reports whether one dependency is usable
type HealthCheckFunc func(ctx context.Context) (bool, error)

// HealthCheckHandler handles health check requests
func HealthCheckHandler(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, http.StatusOK, HealthStatus{
			Status:    "healthy",
			Service:   service,
			Version:   Version,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// ReadinessHandler runs every named check and answers 503 when any fails.
// Checks are passed in by the caller to avoid import cycles.
func ReadinessHandler(service string, checks map[string]HealthCheckFunc) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		dependencies := make(map[string]DependencyStatus, len(names))
		allHealthy := true
		for _, name := range names {
			dep := runCheck(ctx, checks[name])
			if dep.Status != "healthy" {
				allHealthy = false
			}
			dependencies[name] = dep
		}

		status := HealthStatus{
			Status:       "ready",
			Service:      service,
			Version:      Version,
			Timestamp:    time.Now().UTC().Format(time.RFC3339),
			Dependencies: dependencies,
		}
		code := http.StatusOK
		if !allHealthy {
			status.Status = "not_ready"
			code = http.StatusServiceUnavailable
		}
		writeHealth(w, code, status)
	}
}

func runCheck(ctx context.Context, check HealthCheckFunc) DependencyStatus {
	start := time.Now()
	healthy, err := check(ctx)
	dep := DependencyStatus{
		Status:    "healthy",
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if err != nil || !healthy {
		dep.Status = "unhealthy"
		if err != nil {
			dep.Message = err.Error()
		}
	}
	return dep
}

func writeHealth(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}

package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
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
	STTBackend   string                      `json:"stt_backend,omitempty"`
	Vendors      map[string]bool             `json:"vendors_configured,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the status of a dependency
type DependencyStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

// ServiceInfo is the static part of the health report
type ServiceInfo struct {
	STTBackend string
	Vendors    map[string]bool // vendor name -> credentials configured
}

// HealthCheckHandler reports liveness plus the configured backend
func HealthCheckHandler(info ServiceInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := HealthStatus{
			Status:     "healthy",
			Service:    ServiceName,
			Version:    Version,
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
			STTBackend: info.STTBackend,
			Vendors:    info.Vendors,
		}

		writeJSON(w, http.StatusOK, status)
	}
}

// HealthCheckFunc checks one dependency
type HealthCheckFunc func(ctx context.Context) error

// ReadinessHandler runs every named check concurrently and answers 503 when
// any of them fails.
func ReadinessHandler(checks map[string]HealthCheckFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		dependencies := RunChecks(ctx, checks)
		allHealthy := true
		for _, dep := range dependencies {
			if dep.Status != "healthy" {
				allHealthy = false
			}
		}

		status := HealthStatus{
			Status:       "ready",
			Service:      ServiceName,
			Version:      Version,
			Timestamp:    time.Now().UTC().Format(time.RFC3339),
			Dependencies: dependencies,
		}

		code := http.StatusOK
		if !allHealthy {
			status.Status = "not_ready"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	}
}

// RunChecks executes checks concurrently and collects their statuses
func RunChecks(ctx context.Context, checks map[string]HealthCheckFunc) map[string]DependencyStatus {
	names := make([]string, 0, len(checks))
	for name, check := range checks {
		if check != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(map[string]DependencyStatus, len(names))
	)
	for _, name := range names {
		wg.Add(1)
		go func(name string, check HealthCheckFunc) {
			defer wg.Done()

			start := time.Now()
			err := check(ctx)
			dep := DependencyStatus{
				Status:    "healthy",
				LatencyMs: time.Since(start).Milliseconds(),
			}
			if err != nil {
				dep.Status = "unhealthy"
				dep.Message = err.Error()
			}

			mu.Lock()
			out[name] = dep
			mu.Unlock()
		}(name, checks[name])
	}
	wg.Wait()
	return out
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

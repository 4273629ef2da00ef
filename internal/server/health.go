package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Pinger is a dependency whose reachability gates readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DependencyChecker reports ready while every named dependency answers Ping.
type DependencyChecker struct {
	deps    map[string]Pinger
	timeout time.Duration

	mu     sync.RWMutex
	status map[string]string
}

// NewDependencyChecker creates a checker over deps, each pinged with timeout.
func NewDependencyChecker(deps map[string]Pinger, timeout time.Duration) *DependencyChecker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &DependencyChecker{
		deps:    deps,
		timeout: timeout,
		status:  make(map[string]string, len(deps)),
	}
}

// Liveness is true while the process is serving.
func (c *DependencyChecker) Liveness() bool {
	return true
}

// Readiness pings all dependencies concurrently.
func (c *DependencyChecker) Readiness(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	status := make(map[string]string, len(c.deps))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, dep := range c.deps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := "ok"
			if err := dep.Ping(ctx); err != nil {
				result = err.Error()
			}
			mu.Lock()
			status[name] = result
			mu.Unlock()
		}()
	}
	wg.Wait()

	c.mu.Lock()
	c.status = status
	c.mu.Unlock()

	for _, result := range status {
		if result != "ok" {
			return false
		}
	}
	return true
}

// GetStatus returns the outcome of the last readiness check.
func (c *DependencyChecker) GetStatus() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]string, len(c.status))
	for k, v := range c.status {
		out[k] = v
	}
	return out
}

// LivenessHandler returns a handler for Kubernetes liveness probes.
// Liveness probes should only fail if the process needs to be restarted.
func LivenessHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "alive"
		statusCode := http.StatusOK

		if !checker.Liveness() {
			status = "not alive"
			statusCode = http.StatusServiceUnavailable
		}

		writeHealth(w, statusCode, HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}, logger)
	}
}

// ReadinessHandler returns a handler for Kubernetes readiness probes.
// The service is ready when the storage backend is reachable.
func ReadinessHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ready"
		statusCode := http.StatusOK

		if !checker.Readiness(r.Context()) {
			status = "not ready"
			statusCode = http.StatusServiceUnavailable
		}

		writeHealth(w, statusCode, HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    checker.GetStatus(),
		}, logger)
	}
}

func writeHealth(w http.ResponseWriter, statusCode int, response HealthResponse, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Error("failed to encode health response", "error", err)
	}
}

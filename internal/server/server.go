// Package server implements the HTTP API and the health and metrics servers.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker interface for checking component health.
type HealthChecker interface {
	Liveness() bool
	Readiness(ctx context.Context) bool
	GetStatus() map[string]string
}

// Config contains listener settings for the three servers.
type Config struct {
	APIPort      int
	HealthPort   int
	MetricsPort  int
	MetricsPath  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server runs the API, health and metrics HTTP servers.
type Server struct {
	servers map[string]*http.Server
	addrs   map[string]net.Addr
	logger  *slog.Logger
}

// Server names.
const (
	ServerAPI     = "api"
	ServerHealth  = "health"
	ServerMetrics = "metrics"
)

// NewServer creates the HTTP servers. Port 0 picks a free port.
func NewServer(
	cfg Config,
	api http.Handler,
	healthChecker HealthChecker,
	registry *prometheus.Registry,
	logger *slog.Logger,
) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	// Health server
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("GET /health/live", LivenessHandler(healthChecker, logger))
	healthMux.HandleFunc("GET /health/ready", ReadinessHandler(healthChecker, logger))

	// Metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle(cfg.MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	newServer := func(port int, handler http.Handler, writeTimeout time.Duration) *http.Server {
		return &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout,
			WriteTimeout:      writeTimeout,
		}
	}

	return &Server{
		servers: map[string]*http.Server{
			// only the API uses the configured write timeout
			ServerAPI:     newServer(cfg.APIPort, api, cfg.WriteTimeout),
			ServerHealth:  newServer(cfg.HealthPort, healthMux, 10*time.Second),
			ServerMetrics: newServer(cfg.MetricsPort, metricsMux, 10*time.Second),
		},
		addrs:  make(map[string]net.Addr, 3),
		logger: logger,
	}
}

// Start binds all listeners and serves them in the background. A bind
// failure is returned and no server is left running.
func (s *Server) Start() error {
	listeners := make(map[string]net.Listener, len(s.servers))
	for name, srv := range s.servers {
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			for _, l := range listeners {
				l.Close()
			}
			return fmt.Errorf("failed to listen for %s server on %s: %w", name, srv.Addr, err)
		}
		listeners[name] = ln
		s.addrs[name] = ln.Addr()
	}

	for name, ln := range listeners {
		srv := s.servers[name]
		go func() {
			s.logger.Info("starting server", "server", name, "addr", ln.Addr().String())
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("server failed", "server", name, "error", err)
			}
		}()
	}

	return nil
}

// Addr returns the bound address of a started server, or nil.
func (s *Server) Addr(name string) net.Addr {
	return s.addrs[name]
}

// Shutdown gracefully shuts down all servers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP servers")

	errChan := make(chan error, len(s.servers))
	for _, srv := range s.servers {
		go func() {
			errChan <- srv.Shutdown(ctx)
		}()
	}

	var errs []error
	for range s.servers {
		if err := <-errChan; err != nil {
			s.logger.Error("error shutting down server", "error", err)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

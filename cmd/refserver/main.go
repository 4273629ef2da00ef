// Command refserver is a fake reference service that serves generated cities
// and bus trip records for local runs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

var (
	addr       = flag.String("addr", getEnv("REF_SERVER_ADDR", ":8000"), "Listen address")
	seed       = flag.Int64("seed", 42, "Seed for the generated cities and trips")
	countries  = flag.Int("countries", 5, "Number of generated countries")
	cities     = flag.Int("cities", 30, "Number of generated cities")
	maxLatency = flag.Duration("max-latency", 0, "Upper bound of a random delay added to stats responses")
	logLevel   = flag.String("log-level", getEnv("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
)

func main() {
	flag.Parse()

	logger, err := initLogger(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	gen := NewGenerator(*seed, *countries, *cities)
	logger.Info("Generated reference data",
		zap.Int64("seed", *seed),
		zap.Int("cities", len(gen.Cities())),
	)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           newMux(gen, *maxLatency, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Starting reference server", zap.String("address", *addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Reference server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Shutdown incomplete", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}

// initLogger initializes the zap logger based on the log level
func initLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopmentConfig().Build()
	}

	config := zap.NewProductionConfig()
	switch level {
	case "warn":
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		config.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return config.Build()
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

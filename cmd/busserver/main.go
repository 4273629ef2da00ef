package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/petrsynek/bus-server/internal/aggregate"
	"github.com/petrsynek/bus-server/internal/config"
	"github.com/petrsynek/bus-server/internal/encoder"
	"github.com/petrsynek/bus-server/internal/ingest"
	"github.com/petrsynek/bus-server/internal/kafka"
	"github.com/petrsynek/bus-server/internal/observability"
	"github.com/petrsynek/bus-server/internal/reference"
	"github.com/petrsynek/bus-server/internal/server"
	"github.com/petrsynek/bus-server/internal/storage"
	"github.com/petrsynek/bus-server/pkg/transit"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	// Priority: CLI flag > CONFIG_PATH env var > default path
	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = os.Getenv("CONFIG_PATH")
	}
	if cfgPath == "" {
		cfgPath = "config/application.yaml"
	}

	cfg, err := config.NewLoader().Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: cfg.Observability.Logging.Output,
	}).With("app", cfg.Application.Name)

	logger.Info("starting bus server",
		"version", cfg.Application.Version,
		"environment", cfg.Application.Environment,
		"backend", cfg.Storage.Backend,
		"format", cfg.Storage.Format,
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	var cleanupFuncs []func() error
	addCleanup := func(name string, fn func() error) {
		cleanupFuncs = append(cleanupFuncs, fn)
		logger.Debug("registered cleanup", "component", name)
	}
	defer func() {
		for i := len(cleanupFuncs) - 1; i >= 0; i-- {
			if err := cleanupFuncs[i](); err != nil {
				logger.Error("cleanup failed", "error", err)
			}
		}
	}()

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	backend, err := storage.New(startupCtx, storageConfig(cfg), logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to create storage backend: %w", err)
	}
	addCleanup("storage", backend.Close)

	codec, err := encoder.New(transit.FileFormat(cfg.Storage.Format), cfg.Storage.Compression)
	if err != nil {
		return fmt.Errorf("failed to create encoder: %w", err)
	}

	client, err := reference.NewClient(referenceConfig(cfg), logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to create reference client: %w", err)
	}

	var publisher ingest.Publisher
	if cfg.Kafka.Enabled {
		reportPublisher, err := kafka.NewReportPublisher(kafkaConfig(cfg), logger)
		if err != nil {
			return fmt.Errorf("failed to create report publisher: %w", err)
		}
		addCleanup("report-publisher", reportPublisher.Close)
		publisher = reportPublisher
	}

	orchestrator := ingest.New(client, backend, codec, publisher, ingest.Config{
		WorkerPoolSize: cfg.Ingestion.WorkerPoolSize,
		TaskTimeout:    cfg.Ingestion.TaskTimeout(),
		ReportHistory:  cfg.Ingestion.ReportHistory,
	}, logger, metrics)

	aggregator := aggregate.New(backend, aggregate.Config{
		WorkerLimit:    cfg.Aggregation.WorkerLimit,
		MaxRangeDays:   cfg.Aggregation.MaxRangeDays,
		DelayQuantiles: cfg.Aggregation.DelayQuantiles,
	}, logger, metrics)

	api := server.NewAPI(orchestrator, aggregator, logger, metrics)
	checker := server.NewDependencyChecker(map[string]server.Pinger{"storage": backend}, 5*time.Second)

	httpServer := server.NewServer(server.Config{
		APIPort:      cfg.Server.Port,
		HealthPort:   cfg.Observability.Health.Port,
		MetricsPort:  cfg.Observability.Metrics.Port,
		MetricsPath:  cfg.Observability.Metrics.Path,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
	}, api.Handler(), checker, registry, logger)

	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	logger.Info("application started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received termination signal", "signal", sig.String())

	// Stop accepting requests first, then cancel in-flight ingestion.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.GracePeriod())
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown incomplete", "error", err)
	}
	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ingestion tasks did not finish in time", "error", err)
	}

	logger.Info("application stopped successfully")
	return nil
}

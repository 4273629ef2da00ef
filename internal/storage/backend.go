package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	apperrors "github.com/petrsynek/bus-server/internal/errors"
	"github.com/petrsynek/bus-server/pkg/storage"
)

// Supported backend names.
const (
	BackendFile  = "file"
	BackendS3    = "s3"
	BackendGCS   = "gcs"
	BackendAzure = "azure"
)

// MetricsCollector defines metrics operations for storage.
type MetricsCollector interface {
	IncPartitionsWritten(backend string, status string)
	IncPartitionsRead(backend string, status string)
	ObservePartitionSize(backend string, size float64)
	ObserveStorageOperationDuration(backend string, operation string, duration float64)
	IncStorageErrors(backend string, operation string)
}

// Config selects and configures one backend.
type Config struct {
	Backend string
	File    FileConfig
	S3      S3Config
	GCS     GCSConfig
	Azure   AzureConfig
}

// New creates the configured backend and verifies it with a Ping.
// Any failure is reported as ErrBackendMisconfigured.
func New(ctx context.Context, cfg Config, logger *slog.Logger, metrics MetricsCollector) (storage.Backend, error) {
	var (
		backend storage.Backend
		err     error
	)

	switch cfg.Backend {
	case BackendFile:
		backend, err = NewFileBackend(cfg.File, logger, metrics)
	case BackendS3:
		backend, err = NewS3Backend(ctx, cfg.S3, logger, metrics)
	case BackendGCS:
		backend, err = NewGCSBackend(ctx, cfg.GCS, logger, metrics)
	case BackendAzure:
		backend, err = NewAzureBackend(cfg.Azure, logger, metrics)
	default:
		return nil, fmt.Errorf("%w: unsupported backend %q", apperrors.ErrBackendMisconfigured, cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrBackendMisconfigured, err)
	}

	if err := backend.Ping(ctx); err != nil {
		backend.Close()
		return nil, fmt.Errorf("%w: %s backend unreachable: %v", apperrors.ErrBackendMisconfigured, backend.Name(), err)
	}

	logger.Info("storage backend ready", "backend", backend.Name())
	return backend, nil
}

// instrument records the duration and outcome of one storage operation
// and wraps a failure in a StorageError.
type instrument struct {
	backend string
	metrics MetricsCollector
}

func (i instrument) done(operation, path string, start time.Time, err error) error {
	if i.metrics != nil {
		i.metrics.ObserveStorageOperationDuration(i.backend, operation, time.Since(start).Seconds())
	}
	if err == nil {
		return nil
	}
	if i.metrics != nil {
		i.metrics.IncStorageErrors(i.backend, operation)
	}
	return &apperrors.StorageError{
		Backend:   i.backend,
		Operation: operation,
		Path:      path,
		Err:       err,
	}
}

func (i instrument) written(size int, err error) {
	if i.metrics == nil {
		return
	}
	if err != nil {
		i.metrics.IncPartitionsWritten(i.backend, "failure")
		return
	}
	i.metrics.IncPartitionsWritten(i.backend, "success")
	i.metrics.ObservePartitionSize(i.backend, float64(size))
}

func (i instrument) read(err error) {
	if i.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	i.metrics.IncPartitionsRead(i.backend, status)
}

// sortedKeys returns the members of a set in lexical order.
func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

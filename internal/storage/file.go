package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	apperrors "github.com/petrsynek/bus-server/internal/errors"
	"github.com/petrsynek/bus-server/pkg/storage"
	"github.com/petrsynek/bus-server/pkg/transit"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Backend = (*FileBackend)(nil)

// FileConfig contains local filesystem configuration.
type FileConfig struct {
	BasePath string
}

// FileBackend implements storage.Backend on the local filesystem.
// Partitions are written to a temporary file and renamed into place, so a
// reader sees either the previous or the new partition, never a partial one.
type FileBackend struct {
	basePath string
	router   *DefaultRouter
	logger   *slog.Logger
	instr    instrument
}

// NewFileBackend creates a new filesystem backend rooted at config.BasePath.
func NewFileBackend(config FileConfig, logger *slog.Logger, metrics MetricsCollector) (*FileBackend, error) {
	if config.BasePath == "" {
		return nil, fmt.Errorf("file base path is required")
	}

	// Ensure base path exists
	if err := os.MkdirAll(config.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	logger.Info("filesystem backend created", "base_path", config.BasePath)

	return &FileBackend{
		basePath: config.BasePath,
		router:   NewRouter(""),
		logger:   logger,
		instr:    instrument{backend: BackendFile, metrics: metrics},
	}, nil
}

// Name returns the backend name.
func (b *FileBackend) Name() string {
	return BackendFile
}

func (b *FileBackend) abs(path string) string {
	return filepath.Join(b.basePath, filepath.FromSlash(path))
}

// Write replaces the partition at key with data.
func (b *FileBackend) Write(ctx context.Context, key transit.PartitionKey, data []byte) (err error) {
	start := time.Now()
	path, err := b.router.Route(key)
	if err != nil {
		return b.instr.done("write", key.String(), start, err)
	}
	defer func() {
		b.instr.written(len(data), err)
		err = b.instr.done("write", path, start, err)
	}()

	if err := ctx.Err(); err != nil {
		return err
	}

	fullPath := b.abs(path)
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".data-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		return fmt.Errorf("failed to rename into place: %w", err)
	}

	b.logger.Debug("wrote partition",
		"backend", BackendFile,
		"key", key.String(),
		"path", fullPath,
		"size", len(data),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// List returns the city partitions stored for country and date.
func (b *FileBackend) List(ctx context.Context, country string, date time.Time) ([]storage.Handle, error) {
	start := time.Now()
	prefix, err := b.router.Prefix(country, date)
	if err != nil {
		return nil, b.instr.done("list", country, start, err)
	}

	entries, err := os.ReadDir(b.abs(prefix))
	if errors.Is(err, fs.ErrNotExist) {
		return []storage.Handle{}, b.instr.done("list", prefix, start, nil)
	}
	if err != nil {
		return nil, b.instr.done("list", prefix, start, err)
	}

	handles := make([]storage.Handle, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := prefix + entry.Name() + "/" + PartitionObjectName
		if _, err := os.Stat(b.abs(path)); err != nil {
			continue
		}
		key, ok := b.router.Parse(path)
		if !ok {
			continue
		}
		handles = append(handles, storage.Handle{Key: key, Path: path})
	}

	return handles, b.instr.done("list", prefix, start, ctx.Err())
}

// Read returns the payload of one partition.
func (b *FileBackend) Read(ctx context.Context, handle storage.Handle) ([]byte, error) {
	start := time.Now()
	data, err := os.ReadFile(b.abs(handle.Path))
	if errors.Is(err, fs.ErrNotExist) {
		err = fmt.Errorf("%w: %s", apperrors.ErrPartitionNotFound, handle.Key)
	}
	b.instr.read(err)
	return data, b.instr.done("read", handle.Path, start, err)
}

// Countries returns the top-level country directories.
func (b *FileBackend) Countries(ctx context.Context) ([]string, error) {
	start := time.Now()
	entries, err := os.ReadDir(b.basePath)
	if err != nil {
		return nil, b.instr.done("countries", b.basePath, start, err)
	}

	countries := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() && validateSegment("country", entry.Name()) == nil {
			countries = append(countries, entry.Name())
		}
	}
	sort.Strings(countries)
	return countries, b.instr.done("countries", b.basePath, start, nil)
}

// Ping verifies the base directory is writable.
func (b *FileBackend) Ping(ctx context.Context) error {
	f, err := os.CreateTemp(b.basePath, ".ping-*")
	if err != nil {
		return fmt.Errorf("base path not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// Close closes the backend.
func (b *FileBackend) Close() error {
	b.logger.Info("closing filesystem backend")
	return nil
}

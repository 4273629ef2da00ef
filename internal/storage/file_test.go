package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	apperrors "github.com/petrsynek/bus-server/internal/errors"
	"github.com/petrsynek/bus-server/pkg/storage"
	"github.com/petrsynek/bus-server/pkg/transit"
)

// mockMetricsCollector implements MetricsCollector for testing
type mockMetricsCollector struct {
	mu                 sync.Mutex
	written            map[string]int
	read               map[string]int
	sizes              []float64
	durations          map[string]int
	storageErrors      int
	lastErrorBackend   string
	lastErrorOperation string
}

func newMockMetrics() *mockMetricsCollector {
	return &mockMetricsCollector{
		written:   make(map[string]int),
		read:      make(map[string]int),
		durations: make(map[string]int),
	}
}

func (m *mockMetricsCollector) IncPartitionsWritten(backend string, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written[status]++
}

func (m *mockMetricsCollector) IncPartitionsRead(backend string, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.read[status]++
}

func (m *mockMetricsCollector) ObservePartitionSize(backend string, size float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sizes = append(m.sizes, size)
}

func (m *mockMetricsCollector) ObserveStorageOperationDuration(backend string, operation string, duration float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations[operation]++
}

func (m *mockMetricsCollector) IncStorageErrors(backend string, operation string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storageErrors++
	m.lastErrorBackend = backend
	m.lastErrorOperation = operation
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestFileBackend(t *testing.T) (*FileBackend, *mockMetricsCollector, string) {
	t.Helper()
	dir := t.TempDir()
	metrics := newMockMetrics()
	backend, err := NewFileBackend(FileConfig{BasePath: dir}, discardLogger(), metrics)
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	return backend, metrics, dir
}

func TestNewFileBackend(t *testing.T) {
	tests := []struct {
		name    string
		config  FileConfig
		wantErr bool
	}{
		{name: "valid", config: FileConfig{BasePath: filepath.Join(t.TempDir(), "nested", "dir")}},
		{name: "empty base path", config: FileConfig{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend, err := NewFileBackend(tt.config, discardLogger(), nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewFileBackend() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				if _, statErr := os.Stat(tt.config.BasePath); statErr != nil {
					t.Errorf("base path not created: %v", statErr)
				}
				if backend.Name() != BackendFile {
					t.Errorf("Name() = %q, want %q", backend.Name(), BackendFile)
				}
			}
		})
	}
}

func TestFileBackend_WriteListRead(t *testing.T) {
	backend, metrics, dir := newTestFileBackend(t)
	ctx := context.Background()

	keys := []transit.PartitionKey{
		{Country: "CZ", Date: testDate, City: "Prague"},
		{Country: "CZ", Date: testDate, City: "Brno"},
		{Country: "SK", Date: testDate, City: "Kosice"},
	}
	for _, key := range keys {
		if err := backend.Write(ctx, key, []byte(key.City)); err != nil {
			t.Fatalf("Write(%v) error = %v", key, err)
		}
	}

	if _, err := os.Stat(filepath.Join(dir, "CZ", "2023-10-01", "Prague", "data")); err != nil {
		t.Errorf("partition file missing: %v", err)
	}

	handles, err := backend.List(ctx, "CZ", testDate)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(handles) != 2 {
		t.Fatalf("List() returned %d handles, want 2", len(handles))
	}

	for _, h := range handles {
		data, err := backend.Read(ctx, h)
		if err != nil {
			t.Fatalf("Read(%v) error = %v", h.Key, err)
		}
		if string(data) != h.Key.City {
			t.Errorf("Read(%v) = %q, want %q", h.Key, data, h.Key.City)
		}
	}

	if metrics.written["success"] != 3 {
		t.Errorf("partitions written = %d, want 3", metrics.written["success"])
	}
	if metrics.read["success"] != 2 {
		t.Errorf("partitions read = %d, want 2", metrics.read["success"])
	}
	if len(metrics.sizes) != 3 {
		t.Errorf("observed sizes = %d, want 3", len(metrics.sizes))
	}
}

func TestFileBackend_Overwrite(t *testing.T) {
	backend, _, _ := newTestFileBackend(t)
	ctx := context.Background()
	key := transit.PartitionKey{Country: "CZ", Date: testDate, City: "Prague"}

	for _, payload := range []string{"first version, longer", "second"} {
		if err := backend.Write(ctx, key, []byte(payload)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	handles, err := backend.List(ctx, "CZ", testDate)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(handles) != 1 {
		t.Fatalf("List() returned %d handles, want 1", len(handles))
	}
	data, err := backend.Read(ctx, handles[0])
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(data) != "second" {
		t.Errorf("Read() = %q, want second", data)
	}

	// no temp files left behind
	entries, _ := os.ReadDir(filepath.Dir(filepath.Join(backend.basePath, "CZ", "2023-10-01", "Prague", "data")))
	if len(entries) != 1 {
		t.Errorf("partition directory has %d entries, want 1", len(entries))
	}
}

func TestFileBackend_ListMissing(t *testing.T) {
	backend, _, _ := newTestFileBackend(t)

	handles, err := backend.List(context.Background(), "XX", testDate)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(handles) != 0 {
		t.Errorf("List() returned %d handles, want 0", len(handles))
	}
}

func TestFileBackend_InvalidKey(t *testing.T) {
	backend, metrics, _ := newTestFileBackend(t)

	err := backend.Write(context.Background(), transit.PartitionKey{Country: "CZ", Date: testDate, City: "../x"}, []byte("x"))
	if !errors.Is(err, apperrors.ErrInvalidPartitionKey) {
		t.Fatalf("Write() error = %v, want ErrInvalidPartitionKey", err)
	}

	var storageErr *apperrors.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("Write() error = %T, want *StorageError", err)
	}
	if storageErr.IsRetryable() {
		t.Error("invalid key error should not be retryable")
	}
	if metrics.lastErrorOperation != "write" || metrics.lastErrorBackend != BackendFile {
		t.Errorf("storage error metric = %s/%s, want file/write", metrics.lastErrorBackend, metrics.lastErrorOperation)
	}
}

func TestFileBackend_ReadMissing(t *testing.T) {
	backend, metrics, _ := newTestFileBackend(t)
	key := transit.PartitionKey{Country: "CZ", Date: testDate, City: "Prague"}

	_, err := backend.Read(context.Background(), storage.Handle{Key: key, Path: "CZ/2023-10-01/Prague/data"})
	if !errors.Is(err, apperrors.ErrPartitionNotFound) {
		t.Errorf("Read() error = %v, want ErrPartitionNotFound", err)
	}
	if metrics.read["failure"] != 1 {
		t.Errorf("failed reads = %d, want 1", metrics.read["failure"])
	}
}

func TestFileBackend_Countries(t *testing.T) {
	backend, _, _ := newTestFileBackend(t)
	ctx := context.Background()

	for _, key := range []transit.PartitionKey{
		{Country: "SK", Date: testDate, City: "Kosice"},
		{Country: "CZ", Date: testDate, City: "Prague"},
		{Country: "CZ", Date: testDate.AddDate(0, 0, 1), City: "Prague"},
	} {
		if err := backend.Write(ctx, key, []byte("x")); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	got, err := backend.Countries(ctx)
	if err != nil {
		t.Fatalf("Countries() error = %v", err)
	}
	if len(got) != 2 || got[0] != "CZ" || got[1] != "SK" {
		t.Errorf("Countries() = %v, want [CZ SK]", got)
	}
}

func TestFileBackend_Ping(t *testing.T) {
	backend, _, _ := newTestFileBackend(t)
	if err := backend.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestFileBackend_ConcurrentWrites(t *testing.T) {
	backend, _, _ := newTestFileBackend(t)
	ctx := context.Background()
	key := transit.PartitionKey{Country: "CZ", Date: testDate, City: "Prague"}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := backend.Write(ctx, key, []byte("payload")); err != nil {
				t.Errorf("Write() error = %v", err)
			}
		}()
	}
	wg.Wait()

	handles, err := backend.List(ctx, "CZ", testDate)
	if err != nil || len(handles) != 1 {
		t.Fatalf("List() = %d handles, %v; want 1", len(handles), err)
	}
}

func TestFileBackend_WriteCancelled(t *testing.T) {
	backend, _, _ := newTestFileBackend(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	err := backend.Write(ctx, transit.PartitionKey{Country: "CZ", Date: testDate, City: "Prague"}, []byte("x"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Write() error = %v, want deadline exceeded", err)
	}
}

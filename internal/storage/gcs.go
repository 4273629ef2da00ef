package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	apperrors "github.com/petrsynek/bus-server/internal/errors"
	"github.com/petrsynek/bus-server/pkg/storage"
	"github.com/petrsynek/bus-server/pkg/transit"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Backend = (*GCSBackend)(nil)

// GCSConfig contains Google Cloud Storage configuration.
type GCSConfig struct {
	Bucket               string
	ProjectID            string
	BasePath             string
	CredentialsFile      string
	CredentialsJSON      string
	Endpoint             string
	UseDefaultCredential bool
}

// GCSBackend implements storage.Backend for Google Cloud Storage.
// It supports service account file, JSON and default credentials.
type GCSBackend struct {
	client *gcs.Client
	bucket string
	router *DefaultRouter
	logger *slog.Logger
	instr  instrument
}

// clientOptions builds client options for the configured authentication method.
func (cfg GCSConfig) clientOptions(logger *slog.Logger) []option.ClientOption {
	var clientOpts []option.ClientOption
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.Endpoint))
	}

	switch {
	case cfg.UseDefaultCredential:
		// GOOGLE_APPLICATION_CREDENTIALS or the attached service account
		logger.Info("using default GCP credentials")
	case cfg.CredentialsJSON != "":
		clientOpts = append(clientOpts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
		logger.Info("using GCP credentials from JSON string")
	case cfg.CredentialsFile != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
		logger.Info("using GCP credentials from file", "file", cfg.CredentialsFile)
	default:
		logger.Info("no explicit credentials provided, using default GCP credentials")
	}
	return clientOpts
}

// NewGCSBackend creates a new Google Cloud Storage backend.
func NewGCSBackend(ctx context.Context, cfg GCSConfig, logger *slog.Logger, metrics MetricsCollector) (*GCSBackend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}

	client, err := gcs.NewClient(ctx, cfg.clientOptions(logger)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	logger.Info("GCS backend created",
		"bucket", cfg.Bucket,
		"project_id", cfg.ProjectID,
		"base_path", cfg.BasePath,
	)

	return &GCSBackend{
		client: client,
		bucket: cfg.Bucket,
		router: NewRouter(cfg.BasePath),
		logger: logger,
		instr:  instrument{backend: BackendGCS, metrics: metrics},
	}, nil
}

// Name returns the backend name.
func (b *GCSBackend) Name() string {
	return BackendGCS
}

// Write uploads the partition, replacing any existing object.
func (b *GCSBackend) Write(ctx context.Context, key transit.PartitionKey, data []byte) (err error) {
	start := time.Now()
	objectPath, err := b.router.Route(key)
	if err != nil {
		return b.instr.done("write", key.String(), start, err)
	}
	defer func() {
		b.instr.written(len(data), err)
		err = b.instr.done("write", objectPath, start, err)
	}()

	w := b.client.Bucket(b.bucket).Object(objectPath).NewWriter(ctx)
	w.ContentType = "application/octet-stream"

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("failed to write to GCS: %w", err)
	}

	// Close finalizes the upload
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}

	b.logger.Debug("wrote partition",
		"backend", BackendGCS,
		"bucket", b.bucket,
		"object", objectPath,
		"size", len(data),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// List returns the city partitions stored for country and date.
func (b *GCSBackend) List(ctx context.Context, country string, date time.Time) ([]storage.Handle, error) {
	start := time.Now()
	prefix, err := b.router.Prefix(country, date)
	if err != nil {
		return nil, b.instr.done("list", country, start, err)
	}

	handles := []storage.Handle{}
	it := b.client.Bucket(b.bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, b.instr.done("list", prefix, start, err)
		}
		if key, ok := b.router.Parse(attrs.Name); ok {
			handles = append(handles, storage.Handle{Key: key, Path: attrs.Name})
		}
	}

	return handles, b.instr.done("list", prefix, start, nil)
}

// Read downloads one partition.
func (b *GCSBackend) Read(ctx context.Context, handle storage.Handle) ([]byte, error) {
	start := time.Now()
	data, err := b.read(ctx, handle)
	b.instr.read(err)
	return data, b.instr.done("read", handle.Path, start, err)
}

func (b *GCSBackend) read(ctx context.Context, handle storage.Handle) ([]byte, error) {
	r, err := b.client.Bucket(b.bucket).Object(handle.Path).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrPartitionNotFound, handle.Key)
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}

// Countries returns the first object name segments below the base path.
func (b *GCSBackend) Countries(ctx context.Context) ([]string, error) {
	start := time.Now()
	root := b.router.RootPrefix()

	set := make(map[string]struct{})
	it := b.client.Bucket(b.bucket).Objects(ctx, &gcs.Query{Prefix: root, Delimiter: "/"})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, b.instr.done("countries", root, start, err)
		}
		// With a delimiter, directories come back as synthetic entries carrying only Prefix.
		if attrs.Prefix == "" {
			continue
		}
		if country, ok := b.router.CountryOf(attrs.Prefix); ok {
			set[country] = struct{}{}
		}
	}

	return sortedKeys(set), b.instr.done("countries", root, start, nil)
}

// Ping checks that the bucket exists and is accessible.
func (b *GCSBackend) Ping(ctx context.Context) error {
	if _, err := b.client.Bucket(b.bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("bucket %s: %w", b.bucket, err)
	}
	return nil
}

// Close closes the GCS client.
func (b *GCSBackend) Close() error {
	b.logger.Info("closing GCS backend")
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}

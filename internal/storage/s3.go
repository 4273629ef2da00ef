package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	apperrors "github.com/petrsynek/bus-server/internal/errors"
	"github.com/petrsynek/bus-server/pkg/storage"
	"github.com/petrsynek/bus-server/pkg/transit"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Backend = (*S3Backend)(nil)

// S3Config contains AWS S3 configuration.
type S3Config struct {
	Bucket       string
	Region       string
	BasePath     string
	Endpoint     string
	UsePathStyle bool
	SSEEnabled   bool
	SSEKMSKeyID  string
}

// S3Backend implements storage.Backend for AWS S3 and S3-compatible stores.
// It provides multipart upload support and server-side encryption (SSE).
type S3Backend struct {
	client      *s3.Client
	uploader    *manager.Uploader
	bucket      string
	sseEnabled  bool
	sseKMSKeyID string
	router      *DefaultRouter
	logger      *slog.Logger
	instr       instrument
}

// NewS3Backend creates a new S3 backend.
func NewS3Backend(ctx context.Context, cfg S3Config, logger *slog.Logger, metrics MetricsCollector) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	// Load AWS config
	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return newS3Backend(s3Client, cfg, logger, metrics), nil
}

func newS3Backend(client *s3.Client, cfg S3Config, logger *slog.Logger, metrics MetricsCollector) *S3Backend {
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024 // 10MB parts
		u.Concurrency = 5
	})

	logger.Info("S3 backend created",
		"bucket", cfg.Bucket,
		"region", cfg.Region,
		"base_path", cfg.BasePath,
		"sse_enabled", cfg.SSEEnabled,
	)

	return &S3Backend{
		client:      client,
		uploader:    uploader,
		bucket:      cfg.Bucket,
		sseEnabled:  cfg.SSEEnabled,
		sseKMSKeyID: cfg.SSEKMSKeyID,
		router:      NewRouter(cfg.BasePath),
		logger:      logger,
		instr:       instrument{backend: BackendS3, metrics: metrics},
	}
}

// Name returns the backend name.
func (b *S3Backend) Name() string {
	return BackendS3
}

// Write uploads the partition, replacing any existing object.
func (b *S3Backend) Write(ctx context.Context, key transit.PartitionKey, data []byte) (err error) {
	start := time.Now()
	objectKey, err := b.router.Route(key)
	if err != nil {
		return b.instr.done("write", key.String(), start, err)
	}
	defer func() {
		b.instr.written(len(data), err)
		err = b.instr.done("write", objectKey, start, err)
	}()

	uploadInput := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey),
		Body:   bytes.NewReader(data),
	}

	if b.sseEnabled {
		if b.sseKMSKeyID != "" {
			uploadInput.ServerSideEncryption = types.ServerSideEncryptionAwsKms
			uploadInput.SSEKMSKeyId = aws.String(b.sseKMSKeyID)
		} else {
			uploadInput.ServerSideEncryption = types.ServerSideEncryptionAes256
		}
	}

	result, err := b.uploader.Upload(ctx, uploadInput)
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	b.logger.Debug("wrote partition",
		"backend", BackendS3,
		"bucket", b.bucket,
		"key", objectKey,
		"size", len(data),
		"location", result.Location,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// List returns the city partitions stored for country and date.
func (b *S3Backend) List(ctx context.Context, country string, date time.Time) ([]storage.Handle, error) {
	start := time.Now()
	prefix, err := b.router.Prefix(country, date)
	if err != nil {
		return nil, b.instr.done("list", country, start, err)
	}

	handles := []storage.Handle{}
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, b.instr.done("list", prefix, start, err)
		}
		for _, obj := range page.Contents {
			path := aws.ToString(obj.Key)
			if key, ok := b.router.Parse(path); ok {
				handles = append(handles, storage.Handle{Key: key, Path: path})
			}
		}
	}

	return handles, b.instr.done("list", prefix, start, nil)
}

// Read downloads one partition.
func (b *S3Backend) Read(ctx context.Context, handle storage.Handle) ([]byte, error) {
	start := time.Now()
	data, err := b.read(ctx, handle)
	b.instr.read(err)
	return data, b.instr.done("read", handle.Path, start, err)
}

func (b *S3Backend) read(ctx context.Context, handle storage.Handle) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(handle.Path),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrPartitionNotFound, handle.Key)
		}
		return nil, err
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}
	return data, nil
}

// Countries returns the first key segments below the base path.
func (b *S3Backend) Countries(ctx context.Context) ([]string, error) {
	start := time.Now()
	root := b.router.RootPrefix()

	set := make(map[string]struct{})
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(root),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, b.instr.done("countries", root, start, err)
		}
		for _, cp := range page.CommonPrefixes {
			if country, ok := b.router.CountryOf(aws.ToString(cp.Prefix)); ok {
				set[country] = struct{}{}
			}
		}
	}

	return sortedKeys(set), b.instr.done("countries", root, start, nil)
}

// Ping checks that the bucket exists and is accessible.
func (b *S3Backend) Ping(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err != nil {
		return fmt.Errorf("bucket %s: %w", b.bucket, err)
	}
	return nil
}

// Close closes the S3 backend.
func (b *S3Backend) Close() error {
	b.logger.Info("closing S3 backend")
	return nil
}

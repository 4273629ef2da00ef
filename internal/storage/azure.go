package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	apperrors "github.com/petrsynek/bus-server/internal/errors"
	"github.com/petrsynek/bus-server/pkg/storage"
	"github.com/petrsynek/bus-server/pkg/transit"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Backend = (*AzureBackend)(nil)

// AzureConfig contains Azure Blob Storage configuration.
type AzureConfig struct {
	AccountName   string
	AccountKey    string
	ContainerName string
	BasePath      string
	Endpoint      string
}

// connectionString builds a shared-key connection string, honouring a custom
// blob endpoint (e.g. Azurite).
func (cfg AzureConfig) connectionString() string {
	if cfg.Endpoint != "" {
		return fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;BlobEndpoint=%s",
			cfg.AccountName, cfg.AccountKey, cfg.Endpoint)
	}
	return fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;EndpointSuffix=core.windows.net",
		cfg.AccountName, cfg.AccountKey)
}

// AzureBackend implements storage.Backend for Azure Blob Storage.
type AzureBackend struct {
	client        *azblob.Client
	containerName string
	router        *DefaultRouter
	logger        *slog.Logger
	instr         instrument
}

// NewAzureBackend creates a new Azure Blob backend.
func NewAzureBackend(cfg AzureConfig, logger *slog.Logger, metrics MetricsCollector) (*AzureBackend, error) {
	if cfg.ContainerName == "" {
		return nil, fmt.Errorf("azure container is required")
	}

	client, err := azblob.NewClientFromConnectionString(cfg.connectionString(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	logger.Info("Azure backend created",
		"container", cfg.ContainerName,
		"account", cfg.AccountName,
		"base_path", cfg.BasePath,
	)

	return &AzureBackend{
		client:        client,
		containerName: cfg.ContainerName,
		router:        NewRouter(cfg.BasePath),
		logger:        logger,
		instr:         instrument{backend: BackendAzure, metrics: metrics},
	}, nil
}

// Name returns the backend name.
func (b *AzureBackend) Name() string {
	return BackendAzure
}

func (b *AzureBackend) containerClient() *container.Client {
	return b.client.ServiceClient().NewContainerClient(b.containerName)
}

// Write uploads the partition, replacing any existing blob.
func (b *AzureBackend) Write(ctx context.Context, key transit.PartitionKey, data []byte) (err error) {
	start := time.Now()
	blobPath, err := b.router.Route(key)
	if err != nil {
		return b.instr.done("write", key.String(), start, err)
	}
	defer func() {
		b.instr.written(len(data), err)
		err = b.instr.done("write", blobPath, start, err)
	}()

	if _, err := b.client.UploadBuffer(ctx, b.containerName, blobPath, data, nil); err != nil {
		return fmt.Errorf("failed to upload to Azure Blob: %w", err)
	}

	b.logger.Debug("wrote partition",
		"backend", BackendAzure,
		"container", b.containerName,
		"blob", blobPath,
		"size", len(data),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// List returns the city partitions stored for country and date.
func (b *AzureBackend) List(ctx context.Context, country string, date time.Time) ([]storage.Handle, error) {
	start := time.Now()
	prefix, err := b.router.Prefix(country, date)
	if err != nil {
		return nil, b.instr.done("list", country, start, err)
	}

	handles := []storage.Handle{}
	pager := b.client.NewListBlobsFlatPager(b.containerName, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, b.instr.done("list", prefix, start, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			if key, ok := b.router.Parse(*item.Name); ok {
				handles = append(handles, storage.Handle{Key: key, Path: *item.Name})
			}
		}
	}

	return handles, b.instr.done("list", prefix, start, nil)
}

// Read downloads one partition.
func (b *AzureBackend) Read(ctx context.Context, handle storage.Handle) ([]byte, error) {
	start := time.Now()
	data, err := b.read(ctx, handle)
	b.instr.read(err)
	return data, b.instr.done("read", handle.Path, start, err)
}

func (b *AzureBackend) read(ctx context.Context, handle storage.Handle) ([]byte, error) {
	resp, err := b.client.DownloadStream(ctx, b.containerName, handle.Path, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrPartitionNotFound, handle.Key)
	}
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// Countries returns the first blob name segments below the base path.
func (b *AzureBackend) Countries(ctx context.Context) ([]string, error) {
	start := time.Now()
	root := b.router.RootPrefix()

	set := make(map[string]struct{})
	pager := b.containerClient().NewListBlobsHierarchyPager("/", &container.ListBlobsHierarchyOptions{
		Prefix: &root,
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, b.instr.done("countries", root, start, err)
		}
		for _, p := range page.Segment.BlobPrefixes {
			if p.Name == nil {
				continue
			}
			if country, ok := b.router.CountryOf(*p.Name); ok {
				set[country] = struct{}{}
			}
		}
	}

	return sortedKeys(set), b.instr.done("countries", root, start, nil)
}

// Ping checks that the container exists and is accessible.
func (b *AzureBackend) Ping(ctx context.Context) error {
	if _, err := b.containerClient().GetProperties(ctx, nil); err != nil {
		return fmt.Errorf("container %s: %w", b.containerName, err)
	}
	return nil
}

// Close closes the Azure backend.
func (b *AzureBackend) Close() error {
	b.logger.Info("closing Azure backend")
	return nil
}

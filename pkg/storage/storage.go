// Package storage defines the partition storage contract.
//
// This package provides the abstraction over the partitioned key space
// country/date/city/data, implemented by the local filesystem and by
// object stores (S3, GCS, Azure Blob).
package storage

import (
	"context"
	"time"

	"github.com/petrsynek/bus-server/pkg/transit"
)

// Handle refers to one stored partition returned by List.
type Handle struct {
	// Key is the logical partition key.
	Key transit.PartitionKey
	// Path is the backend-specific object key or file path.
	Path string
}

// Backend stores and retrieves partitions.
// Implementations are chosen once at construction and must be safe for concurrent use.
type Backend interface {
	// Write creates or replaces the partition at key with data.
	// A partition is always overwritten wholesale.
	Write(ctx context.Context, key transit.PartitionKey, data []byte) error

	// List returns the city partitions stored for country and date.
	// A prefix with no partitions yields an empty result, not an error.
	List(ctx context.Context, country string, date time.Time) ([]Handle, error)

	// Read returns the raw payload of one partition.
	Read(ctx context.Context, handle Handle) ([]byte, error)

	// Countries returns every country that has at least one partition.
	Countries(ctx context.Context) ([]string, error)

	// Ping verifies the backend is reachable and correctly configured.
	Ping(ctx context.Context) error

	// Name returns the backend name used in logs and metrics (e.g. "s3").
	Name() string

	// Close releases resources held by the backend.
	Close() error
}

// Router maps partition keys to storage paths and back.
type Router interface {
	// Route returns the storage path of a partition.
	Route(key transit.PartitionKey) (string, error)

	// Prefix returns the path prefix under which all city partitions
	// of a country and date are stored.
	Prefix(country string, date time.Time) (string, error)

	// Parse converts a storage path back into a partition key.
	// It returns false for paths that are not partition paths.
	Parse(path string) (transit.PartitionKey, bool)
}

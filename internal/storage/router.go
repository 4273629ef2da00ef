// Package storage implements the partition storage backends.
package storage

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/petrsynek/bus-server/internal/errors"
	"github.com/petrsynek/bus-server/pkg/storage"
	"github.com/petrsynek/bus-server/pkg/transit"
)

// Ensure implementation satisfies interface.
var _ storage.Router = (*DefaultRouter)(nil)

// PartitionObjectName is the name of the single object stored per partition.
const PartitionObjectName = "data"

// DefaultRouter implements the country/date/city partition layout.
//
// Paths always use forward slashes: {basePath/}{country}/{YYYY-MM-DD}/{city}/data
type DefaultRouter struct {
	basePath string
}

// NewRouter creates a new storage router rooted at basePath.
// An empty basePath places partitions at the root of the bucket or directory.
func NewRouter(basePath string) *DefaultRouter {
	return &DefaultRouter{
		basePath: strings.Trim(basePath, "/"),
	}
}

// Route returns the storage path for a partition.
func (r *DefaultRouter) Route(key transit.PartitionKey) (string, error) {
	if err := validateSegment("country", key.Country); err != nil {
		return "", err
	}
	if err := validateSegment("city", key.City); err != nil {
		return "", err
	}
	if key.Date.IsZero() {
		return "", fmt.Errorf("%w: date is required", apperrors.ErrInvalidPartitionKey)
	}

	return r.join(key.Country, key.DateString(), key.City, PartitionObjectName), nil
}

// Prefix returns the path prefix (with trailing slash) of all partitions for a country and date.
func (r *DefaultRouter) Prefix(country string, date time.Time) (string, error) {
	if err := validateSegment("country", country); err != nil {
		return "", err
	}
	return r.join(country, transit.FormatDate(date)) + "/", nil
}

// RootPrefix returns the prefix under which country segments are found.
// It is empty when no base path is configured.
func (r *DefaultRouter) RootPrefix() string {
	if r.basePath == "" {
		return ""
	}
	return r.basePath + "/"
}

// Parse converts a storage path back into a partition key.
func (r *DefaultRouter) Parse(path string) (transit.PartitionKey, bool) {
	rel := strings.TrimPrefix(path, r.RootPrefix())
	if r.basePath != "" && rel == path {
		return transit.PartitionKey{}, false
	}

	parts := strings.Split(rel, "/")
	if len(parts) != 4 || parts[3] != PartitionObjectName {
		return transit.PartitionKey{}, false
	}

	date, err := time.Parse(transit.DateLayout, parts[1])
	if err != nil {
		return transit.PartitionKey{}, false
	}

	key := transit.PartitionKey{Country: parts[0], Date: date, City: parts[2]}
	if validateSegment("country", key.Country) != nil || validateSegment("city", key.City) != nil {
		return transit.PartitionKey{}, false
	}
	return key, true
}

// CountryOf extracts the country segment from a path below the root prefix.
func (r *DefaultRouter) CountryOf(path string) (string, bool) {
	rel := strings.TrimPrefix(path, r.RootPrefix())
	if r.basePath != "" && rel == path {
		return "", false
	}
	country, _, found := strings.Cut(rel, "/")
	if !found || validateSegment("country", country) != nil {
		return "", false
	}
	return country, true
}

func (r *DefaultRouter) join(segments ...string) string {
	path := strings.Join(segments, "/")
	if r.basePath == "" {
		return path
	}
	return r.basePath + "/" + path
}

// validateSegment rejects values that would escape or collapse the key layout.
func validateSegment(name, value string) error {
	switch {
	case value == "":
		return fmt.Errorf("%w: %s is empty", apperrors.ErrInvalidPartitionKey, name)
	case value == "." || value == "..":
		return fmt.Errorf("%w: %s %q is not allowed", apperrors.ErrInvalidPartitionKey, name, value)
	case strings.ContainsAny(value, `/\`):
		return fmt.Errorf("%w: %s %q contains a path separator", apperrors.ErrInvalidPartitionKey, name, value)
	}
	return nil
}

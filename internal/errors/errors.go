// Package errors defines application-specific error types and sentinel errors.
package errors

import (
	"errors"
	"fmt"
	"time"

	"github.com/petrsynek/bus-server/pkg/transit"
)

// Sentinel errors for common conditions.
var (
	ErrBackendMisconfigured = errors.New("storage backend misconfigured")
	ErrInvalidPartitionKey  = errors.New("invalid partition key")
	ErrPartitionNotFound    = errors.New("partition not found")
	ErrInvalidDateRange     = errors.New("invalid date range")
	ErrRangeTooLarge        = errors.New("date range too large")
	ErrPublisherClosed      = errors.New("report publisher is closed")
	ErrOrchestratorClosed   = errors.New("orchestrator is shut down")
	ErrConnectionLost       = errors.New("connection lost")
)

// StorageError represents a storage operation failure on a single partition or prefix.
type StorageError struct {
	Backend   string
	Operation string
	Path      string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: backend=%s operation=%s path=%s: %v",
		e.Backend, e.Operation, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsRetryable determines if a StorageError is retryable based on the operation type.
func (e *StorageError) IsRetryable() bool {
	if errors.Is(e.Err, ErrInvalidPartitionKey) || errors.Is(e.Err, ErrPartitionNotFound) {
		return false
	}
	return e.Operation == "write" || e.Operation == "read" || e.Operation == "list"
}

// FetchError represents a failed call against the reference service.
type FetchError struct {
	City       string
	Date       time.Time
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.City == "" {
		return fmt.Sprintf("fetch error: url=%s status=%d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch error: city=%s date=%s url=%s status=%d: %v",
		e.City, transit.FormatDate(e.Date), e.URL, e.StatusCode, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the reference service may succeed on a later attempt.
func (e *FetchError) IsRetryable() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500 || e.StatusCode == 429
}

// ValidationError represents a raw record rejected at the ingestion boundary.
type ValidationError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: record=%d field=%s: %s",
		e.Index, e.Field, e.Reason)
}

// TaskError represents the failure of one city's ingestion task.
type TaskError struct {
	Key   transit.PartitionKey
	Stage string
	Err   error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("ingestion task error: partition=%s stage=%s: %v",
		e.Key, e.Stage, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// IsRetryable determines if a TaskError is retryable.
func (e *TaskError) IsRetryable() bool {
	return IsRetryable(e.Err)
}

// Retryable defines an interface for errors that can indicate if they are retryable.
type Retryable interface {
	error
	IsRetryable() bool
}

// IsRetryable checks if an error is retryable.
// It first checks if the error implements the Retryable interface,
// then falls back to checking sentinel errors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var retryable Retryable
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	if errors.Is(err, ErrConnectionLost) {
		return true
	}

	return false
}

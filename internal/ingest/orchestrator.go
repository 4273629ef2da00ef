// Package ingest implements the ingestion orchestrator that fans out one
// fetch-encode-write task per city for a requested date.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/petrsynek/bus-server/internal/errors"
	"github.com/petrsynek/bus-server/internal/reference"
	"github.com/petrsynek/bus-server/pkg/encoder"
	"github.com/petrsynek/bus-server/pkg/storage"
	"github.com/petrsynek/bus-server/pkg/transit"
)

// Task stages reported in TaskResult.Stage.
const (
	StageSchedule = "schedule"
	StageFetch    = "fetch"
	StageEncode   = "encode"
	StageWrite    = "write"
	StagePanic    = "panic"
)

// Fetcher retrieves cities and per-city records from the reference service.
type Fetcher interface {
	Cities(ctx context.Context) ([]transit.City, error)
	Fetch(ctx context.Context, city transit.City, date time.Time) (*reference.Batch, error)
}

// Publisher receives every task result, e.g. to forward it to a message broker.
type Publisher interface {
	Publish(ctx context.Context, result TaskResult) error
}

// MetricsCollector defines metrics operations for ingestion.
type MetricsCollector interface {
	IncIngestionRuns(status string)
	IncIngestionTasks(status string, stage string)
	ObserveTaskDuration(status string, duration float64)
	AddRecordsIngested(country string, count int)
	AddRecordsQuarantined(country string, count int)
	AddTasksInFlight(delta float64)
	IncReportsPublished(status string)
}

// Config contains orchestrator configuration.
type Config struct {
	WorkerPoolSize int
	TaskTimeout    time.Duration
	ReportHistory  int
}

// Orchestrator schedules ingestion runs. Tasks run on a service-lifetime
// context, so they outlive the request that started them until Shutdown.
type Orchestrator struct {
	fetcher   Fetcher
	backend   storage.Backend
	encoder   encoder.Encoder
	publisher Publisher
	config    Config
	logger    *slog.Logger
	metrics   MetricsCollector
	reports   *reportStore

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// New creates a new orchestrator. publisher and metrics may be nil.
func New(
	fetcher Fetcher,
	backend storage.Backend,
	enc encoder.Encoder,
	publisher Publisher,
	config Config,
	logger *slog.Logger,
	metrics MetricsCollector,
) *Orchestrator {
	if config.WorkerPoolSize < 1 {
		config.WorkerPoolSize = 1
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = time.Minute
	}
	if config.ReportHistory < 1 {
		config.ReportHistory = 100
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		fetcher:   fetcher,
		backend:   backend,
		encoder:   enc,
		publisher: publisher,
		config:    config,
		logger:    logger,
		metrics:   metrics,
		reports:   newReportStore(config.ReportHistory),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Ingest lists the cities and schedules one task per city for date.
// It returns as soon as the tasks are scheduled; progress is available via Report.
func (o *Orchestrator) Ingest(ctx context.Context, date time.Time) (Ack, error) {
	date = transit.Day(date)

	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return Ack{}, apperrors.ErrOrchestratorClosed
	}

	cities, err := o.fetcher.Cities(ctx)
	if err != nil {
		o.incRuns("failed")
		o.logger.Error("failed to list cities",
			"date", transit.FormatDate(date),
			"error", err,
		)
		return Ack{}, fmt.Errorf("failed to list cities: %w", err)
	}

	r := newRun(uuid.New().String(), date, len(cities))

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return Ack{}, apperrors.ErrOrchestratorClosed
	}
	o.wg.Add(1)
	o.mu.Unlock()

	o.reports.add(r)
	o.incRuns("accepted")

	o.logger.Info("ingestion run accepted",
		"run_id", r.report.RunID,
		"date", transit.FormatDate(date),
		"cities", len(cities),
	)

	go o.dispatch(r, date, cities)

	return Ack{
		RunID:  r.report.RunID,
		Date:   transit.FormatDate(date),
		Cities: len(cities),
	}, nil
}

// dispatch runs the tasks of one run on a bounded pool and records every result.
func (o *Orchestrator) dispatch(r *run, date time.Time, cities []transit.City) {
	defer o.wg.Done()

	var g errgroup.Group
	g.SetLimit(o.config.WorkerPoolSize)

	for _, city := range cities {
		if err := o.ctx.Err(); err != nil {
			o.complete(r, date, TaskResult{
				RunID:     r.report.RunID,
				Date:      transit.FormatDate(date),
				City:      city,
				StartedAt: time.Now().UTC(),
			}, StageSchedule, err)
			continue
		}
		g.Go(func() error {
			o.runTask(r, date, city)
			return nil
		})
	}
	_ = g.Wait()

	r.finish()
	report := r.snapshot()
	o.logger.Info("ingestion run completed",
		"run_id", report.RunID,
		"date", report.Date,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
	)
}

// runTask fetches, encodes and writes one city partition. It never panics the
// orchestrator and never affects sibling tasks.
func (o *Orchestrator) runTask(r *run, date time.Time, city transit.City) {
	if o.metrics != nil {
		o.metrics.AddTasksInFlight(1)
		defer o.metrics.AddTasksInFlight(-1)
	}

	res := TaskResult{
		RunID:     r.report.RunID,
		Date:      transit.FormatDate(date),
		City:      city,
		StartedAt: time.Now().UTC(),
	}

	defer func() {
		if p := recover(); p != nil {
			o.complete(r, date, res, StagePanic, fmt.Errorf("task panicked: %v", p))
		}
	}()

	ctx, cancel := context.WithTimeout(o.ctx, o.config.TaskTimeout)
	defer cancel()

	key := transit.PartitionKey{Country: city.Country, Date: date, City: city.Name}

	batch, err := o.fetcher.Fetch(ctx, city, date)
	if err != nil {
		o.complete(r, date, res, StageFetch, err)
		return
	}
	res.Records = len(batch.Records)
	res.Quarantined = len(batch.Rejected)

	// An empty batch is still written: "fetched, nothing found".
	data, err := o.encoder.Encode(batch.Records)
	if err != nil {
		o.complete(r, date, res, StageEncode, err)
		return
	}
	res.Bytes = len(data)

	if err := o.backend.Write(ctx, key, data); err != nil {
		o.complete(r, date, res, StageWrite, err)
		return
	}

	o.complete(r, date, res, "", nil)
}

// complete records a task outcome, logging and counting failures centrally.
func (o *Orchestrator) complete(r *run, date time.Time, res TaskResult, stage string, err error) {
	res.Duration = time.Since(res.StartedAt)
	res.DurationMS = res.Duration.Milliseconds()

	if err != nil {
		key := transit.PartitionKey{Country: res.City.Country, Date: date, City: res.City.Name}
		taskErr := &apperrors.TaskError{Key: key, Stage: stage, Err: err}

		res.Status = TaskFailed
		res.Stage = stage
		res.Err = taskErr
		res.Error = err.Error()
		res.Retryable = apperrors.IsRetryable(taskErr)

		o.logger.Error("ingestion task failed",
			"run_id", res.RunID,
			"country", res.City.Country,
			"city", res.City.String(),
			"date", res.Date,
			"stage", stage,
			"retryable", res.Retryable,
			"error", err,
		)
	} else {
		res.Status = TaskSucceeded
		o.logger.Debug("ingestion task succeeded",
			"run_id", res.RunID,
			"country", res.City.Country,
			"city", res.City.String(),
			"date", res.Date,
			"records", res.Records,
			"quarantined", res.Quarantined,
			"bytes", res.Bytes,
		)
	}

	r.record(res)

	if o.metrics != nil {
		o.metrics.IncIngestionTasks(string(res.Status), res.Stage)
		o.metrics.ObserveTaskDuration(string(res.Status), res.Duration.Seconds())
		if res.Status == TaskSucceeded {
			o.metrics.AddRecordsIngested(res.City.Country, res.Records)
		}
		if res.Quarantined > 0 {
			o.metrics.AddRecordsQuarantined(res.City.Country, res.Quarantined)
		}
	}

	o.publish(res)
}

func (o *Orchestrator) publish(res TaskResult) {
	if o.publisher == nil {
		return
	}

	status := "success"
	if err := o.publisher.Publish(context.WithoutCancel(o.ctx), res); err != nil {
		status = "failure"
		if !errors.Is(err, apperrors.ErrPublisherClosed) {
			o.logger.Warn("failed to publish task result",
				"run_id", res.RunID,
				"city", res.City.String(),
				"error", err,
			)
		}
	}
	if o.metrics != nil {
		o.metrics.IncReportsPublished(status)
	}
}

// Report returns the current state of a run.
func (o *Orchestrator) Report(runID string) (Report, bool) {
	r, ok := o.reports.get(runID)
	if !ok {
		return Report{}, false
	}
	return r.snapshot(), true
}

// Await blocks until the run completes or ctx ends.
func (o *Orchestrator) Await(ctx context.Context, runID string) (Report, error) {
	r, ok := o.reports.get(runID)
	if !ok {
		return Report{}, fmt.Errorf("unknown ingestion run %q", runID)
	}
	select {
	case <-r.done:
		return r.snapshot(), nil
	case <-ctx.Done():
		return r.snapshot(), ctx.Err()
	}
}

// Shutdown stops accepting runs, cancels in-flight tasks and waits for them
// to record their results, or for ctx to end.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	o.logger.Info("shutting down orchestrator")
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.logger.Info("orchestrator stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("orchestrator shutdown: %w", ctx.Err())
	}
}

func (o *Orchestrator) incRuns(status string) {
	if o.metrics != nil {
		o.metrics.IncIngestionRuns(status)
	}
}

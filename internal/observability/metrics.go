package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "busserver"

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Ingestion metrics
	IngestionRuns       *prometheus.CounterVec
	IngestionTasks      *prometheus.CounterVec
	TaskDuration        *prometheus.HistogramVec
	TasksInFlight       prometheus.Gauge
	RecordsIngested     *prometheus.CounterVec
	RecordsQuarantined  *prometheus.CounterVec
	ReportsPublished    *prometheus.CounterVec
	ReferenceFetchTimes *prometheus.HistogramVec

	// Storage metrics
	PartitionsWritten        *prometheus.CounterVec
	PartitionsRead           *prometheus.CounterVec
	PartitionSize            *prometheus.HistogramVec
	StorageOperationDuration *prometheus.HistogramVec
	StorageErrors            *prometheus.CounterVec

	// Query metrics
	AggregationDuration *prometheus.HistogramVec
	AggregationResults  *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		IngestionRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingestion_runs_total",
				Help:      "Total number of ingestion runs by outcome",
			},
			[]string{"status"},
		),
		IngestionTasks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingestion_tasks_total",
				Help:      "Total number of per-city ingestion tasks by status and failing stage",
			},
			[]string{"status", "stage"},
		),
		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingestion_task_duration_seconds",
				Help:      "Duration of a fetch, encode and write task",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"status"},
		),
		TasksInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ingestion_tasks_in_flight",
				Help:      "Number of ingestion tasks currently running",
			},
		),
		RecordsIngested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_ingested_total",
				Help:      "Total number of trip records written to partitions",
			},
			[]string{"country"},
		),
		RecordsQuarantined: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_quarantined_total",
				Help:      "Total number of trip records rejected by validation",
			},
			[]string{"country"},
		),
		ReportsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reports_published_total",
				Help:      "Total number of task results published to Kafka",
			},
			[]string{"status"},
		),
		ReferenceFetchTimes: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reference_fetch_duration_seconds",
				Help:      "Duration of reference service requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint", "status"},
		),

		PartitionsWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "partitions_written_total",
				Help:      "Total number of partitions written to storage",
			},
			[]string{"backend", "status"},
		),
		PartitionsRead: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "partitions_read_total",
				Help:      "Total number of partitions read from storage",
			},
			[]string{"backend", "status"},
		),
		PartitionSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "partition_size_bytes",
				Help:      "Size of partitions written to storage",
				Buckets:   prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to 2MB
			},
			[]string{"backend"},
		),
		StorageOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "storage_operation_duration_seconds",
				Help:      "Duration of storage backend operations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"backend", "operation"},
		),
		StorageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_errors_total",
				Help:      "Total number of storage errors",
			},
			[]string{"backend", "operation"},
		),

		AggregationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "aggregation_duration_seconds",
				Help:      "Duration of statistics queries",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"query"},
		),
		AggregationResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "aggregation_results_total",
				Help:      "Total number of (country, date) evaluations by outcome",
			},
			[]string{"outcome"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of API requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method", "status"},
		),
	}
}

// IncIngestionRuns increments the ingestion runs counter.
func (m *Metrics) IncIngestionRuns(status string) {
	m.IngestionRuns.WithLabelValues(status).Inc()
}

// IncIngestionTasks increments the ingestion tasks counter.
func (m *Metrics) IncIngestionTasks(status string, stage string) {
	m.IngestionTasks.WithLabelValues(status, stage).Inc()
}

// ObserveTaskDuration observes an ingestion task duration in seconds.
func (m *Metrics) ObserveTaskDuration(status string, duration float64) {
	m.TaskDuration.WithLabelValues(status).Observe(duration)
}

// AddRecordsIngested adds to the ingested records counter.
func (m *Metrics) AddRecordsIngested(country string, count int) {
	m.RecordsIngested.WithLabelValues(country).Add(float64(count))
}

// AddRecordsQuarantined adds to the quarantined records counter.
func (m *Metrics) AddRecordsQuarantined(country string, count int) {
	m.RecordsQuarantined.WithLabelValues(country).Add(float64(count))
}

// AddTasksInFlight moves the in-flight task gauge by delta.
func (m *Metrics) AddTasksInFlight(delta float64) {
	m.TasksInFlight.Add(delta)
}

// IncReportsPublished increments the published reports counter.
func (m *Metrics) IncReportsPublished(status string) {
	m.ReportsPublished.WithLabelValues(status).Inc()
}

// ObserveFetchDuration observes a reference service request.
func (m *Metrics) ObserveFetchDuration(endpoint string, status string, duration float64) {
	m.ReferenceFetchTimes.WithLabelValues(endpoint, status).Observe(duration)
}

// IncPartitionsWritten increments the partitions written counter.
func (m *Metrics) IncPartitionsWritten(backend string, status string) {
	m.PartitionsWritten.WithLabelValues(backend, status).Inc()
}

// IncPartitionsRead increments the partitions read counter.
func (m *Metrics) IncPartitionsRead(backend string, status string) {
	m.PartitionsRead.WithLabelValues(backend, status).Inc()
}

// ObservePartitionSize observes a written partition size.
func (m *Metrics) ObservePartitionSize(backend string, size float64) {
	m.PartitionSize.WithLabelValues(backend).Observe(size)
}

// ObserveStorageOperationDuration observes a storage operation duration.
func (m *Metrics) ObserveStorageOperationDuration(backend string, operation string, duration float64) {
	m.StorageOperationDuration.WithLabelValues(backend, operation).Observe(duration)
}

// IncStorageErrors increments storage errors counter.
func (m *Metrics) IncStorageErrors(backend string, operation string) {
	m.StorageErrors.WithLabelValues(backend, operation).Inc()
}

// ObserveAggregationDuration observes a statistics query duration.
func (m *Metrics) ObserveAggregationDuration(query string, duration float64) {
	m.AggregationDuration.WithLabelValues(query).Observe(duration)
}

// IncAggregationResults increments the aggregation outcome counter.
func (m *Metrics) IncAggregationResults(outcome string) {
	m.AggregationResults.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest observes an API request.
func (m *Metrics) ObserveHTTPRequest(route string, method string, status string, duration float64) {
	m.HTTPRequestDuration.WithLabelValues(route, method, status).Observe(duration)
}

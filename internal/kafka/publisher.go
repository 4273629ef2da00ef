// Package kafka publishes ingestion task results to Kafka as CloudEvents.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	apperrors "github.com/petrsynek/bus-server/internal/errors"
	"github.com/petrsynek/bus-server/internal/ingest"
)

// CloudEvent types emitted for task results.
const (
	EventTypeTaskSucceeded = "com.busserver.ingestion.task.succeeded"
	EventTypeTaskFailed    = "com.busserver.ingestion.task.failed"
)

// DefaultSource is the CloudEvent source used when none is configured.
const DefaultSource = "bus-server/ingest"

// Config contains report publisher settings.
type Config struct {
	Enabled          bool
	BootstrapServers []string
	Topic            string
	Source           string
	Security         SecurityConfig
}

// ReportPublisher sends one CloudEvent per ingestion task result.
type ReportPublisher struct {
	producer sarama.SyncProducer
	topic    string
	source   string
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewReportPublisher connects a synchronous producer to the configured brokers.
func NewReportPublisher(cfg Config, logger *slog.Logger) (*ReportPublisher, error) {
	if len(cfg.BootstrapServers) == 0 {
		return nil, fmt.Errorf("kafka bootstrap servers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka report topic is required")
	}

	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Idempotent = true
	config.Producer.Retry.Max = 3
	config.Net.MaxOpenRequests = 1
	config.ClientID = "bus-server"

	if err := configureSecurity(config, cfg.Security); err != nil {
		return nil, fmt.Errorf("failed to configure security: %w", err)
	}

	producer, err := sarama.NewSyncProducer(cfg.BootstrapServers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create report producer: %w", err)
	}

	logger.Info("report publisher created",
		"brokers", cfg.BootstrapServers,
		"topic", cfg.Topic,
		"security_protocol", cfg.Security.SecurityProtocol,
	)

	return newReportPublisher(producer, cfg, logger), nil
}

func newReportPublisher(producer sarama.SyncProducer, cfg Config, logger *slog.Logger) *ReportPublisher {
	source := cfg.Source
	if source == "" {
		source = DefaultSource
	}
	return &ReportPublisher{
		producer: producer,
		topic:    cfg.Topic,
		source:   source,
		logger:   logger,
	}
}

// Publish sends res as a CloudEvent keyed by the city's partition, so all
// results for one city stay ordered within a Kafka partition.
func (p *ReportPublisher) Publish(ctx context.Context, res ingest.TaskResult) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return apperrors.ErrPublisherClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	event, err := newTaskEvent(p.source, res)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal CloudEvent: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(res.City.Country + "/" + res.City.Name),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("ce_specversion"), Value: []byte(event.SpecVersion())},
			{Key: []byte("ce_type"), Value: []byte(event.Type())},
			{Key: []byte("ce_source"), Value: []byte(event.Source())},
			{Key: []byte("ce_id"), Value: []byte(event.ID())},
			{Key: []byte("run_id"), Value: []byte(res.RunID)},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send task result: %w", err)
	}

	p.logger.Debug("task result published",
		"topic", p.topic,
		"partition", partition,
		"offset", offset,
		"event_id", event.ID(),
		"event_type", event.Type(),
		"run_id", res.RunID,
	)
	return nil
}

// Close flushes and closes the producer. Further Publish calls fail with
// ErrPublisherClosed.
func (p *ReportPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.producer.Close()
}

func newTaskEvent(source string, res ingest.TaskResult) (cloudevents.Event, error) {
	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetSource(source)
	event.SetSubject(fmt.Sprintf("%s/%s/%s", res.City.Country, res.Date, res.City.Name))
	event.SetTime(res.StartedAt.Add(res.Duration))

	if res.Status == ingest.TaskSucceeded {
		event.SetType(EventTypeTaskSucceeded)
	} else {
		event.SetType(EventTypeTaskFailed)
	}

	if err := event.SetData(cloudevents.ApplicationJSON, res); err != nil {
		return event, fmt.Errorf("failed to set event data: %w", err)
	}
	return event, nil
}

var _ ingest.Publisher = (*ReportPublisher)(nil)

package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	apperrors "github.com/petrsynek/bus-server/internal/errors"
	"github.com/petrsynek/bus-server/internal/ingest"
	"github.com/petrsynek/bus-server/pkg/transit"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testResult(status ingest.TaskStatus) ingest.TaskResult {
	return ingest.TaskResult{
		RunID:     "run-1",
		Date:      "2023-10-01",
		City:      transit.City{ID: 7, Name: "Brno", Country: "CZ"},
		Status:    status,
		Records:   12,
		StartedAt: time.Date(2023, 10, 2, 8, 0, 0, 0, time.UTC),
		Duration:  2 * time.Second,
	}
}

func TestReportPublisher_Publish(t *testing.T) {
	tests := []struct {
		name     string
		status   ingest.TaskStatus
		wantType string
	}{
		{"succeeded", ingest.TaskSucceeded, EventTypeTaskSucceeded},
		{"failed", ingest.TaskFailed, EventTypeTaskFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			producer := mocks.NewSyncProducer(t, nil)
			producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
				var event cloudevents.Event
				if err := json.Unmarshal(val, &event); err != nil {
					return err
				}
				if event.Type() != tt.wantType {
					t.Errorf("event.Type() = %q, want %q", event.Type(), tt.wantType)
				}
				if event.Source() != DefaultSource {
					t.Errorf("event.Source() = %q, want %q", event.Source(), DefaultSource)
				}
				if event.Subject() != "CZ/2023-10-01/Brno" {
					t.Errorf("event.Subject() = %q, want %q", event.Subject(), "CZ/2023-10-01/Brno")
				}
				var got ingest.TaskResult
				if err := event.DataAs(&got); err != nil {
					return err
				}
				if got.RunID != "run-1" || got.Records != 12 || got.City.Name != "Brno" {
					t.Errorf("event data = %+v, want run-1/12/Brno", got)
				}
				return nil
			})

			p := newReportPublisher(producer, Config{Topic: "ingestion-results"}, discardLogger())
			if err := p.Publish(context.Background(), testResult(tt.status)); err != nil {
				t.Fatalf("Publish() error = %v", err)
			}
			if err := p.Close(); err != nil {
				t.Errorf("Close() error = %v", err)
			}
		})
	}
}

func TestReportPublisher_PublishFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := newReportPublisher(producer, Config{Topic: "ingestion-results"}, discardLogger())
	defer p.Close()

	err := p.Publish(context.Background(), testResult(ingest.TaskFailed))
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Errorf("Publish() error = %v, want %v", err, sarama.ErrOutOfBrokers)
	}
}

func TestReportPublisher_Closed(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	p := newReportPublisher(producer, Config{Topic: "ingestion-results", Source: "test"}, discardLogger())

	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close() error = %v, want nil", err)
	}

	err := p.Publish(context.Background(), testResult(ingest.TaskSucceeded))
	if !errors.Is(err, apperrors.ErrPublisherClosed) {
		t.Errorf("Publish() after Close error = %v, want %v", err, apperrors.ErrPublisherClosed)
	}
}

func TestReportPublisher_CancelledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	p := newReportPublisher(producer, Config{Topic: "ingestion-results"}, discardLogger())
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.Publish(ctx, testResult(ingest.TaskSucceeded)); !errors.Is(err, context.Canceled) {
		t.Errorf("Publish() error = %v, want %v", err, context.Canceled)
	}
}

func TestNewReportPublisher_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no brokers", Config{Topic: "t"}},
		{"no topic", Config{BootstrapServers: []string{"localhost:9092"}}},
		{"bad protocol", Config{
			BootstrapServers: []string{"localhost:9092"},
			Topic:            "t",
			Security:         SecurityConfig{SecurityProtocol: "KERBEROS"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewReportPublisher(tt.cfg, discardLogger()); err == nil {
				t.Error("NewReportPublisher() error = nil, want error")
			}
		})
	}
}

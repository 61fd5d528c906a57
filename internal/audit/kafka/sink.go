// Package kafka publishes audit events to a Kafka topic for downstream
// compliance consumers. The database store remains the system of record;
// delivery here is asynchronous and best-effort.
package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"consentd/internal/audit"
	"consentd/internal/platform/config"
)

type Sink struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
	mu     sync.RWMutex
	closed bool
}

// NewSink creates a Kafka audit sink. Returns nil if brokers are not
// configured (audit stays store-only).
func NewSink(cfg config.KafkaConfig, logger *slog.Logger) (*Sink, error) {
	if cfg.Brokers == "" {
		return nil, nil
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(strings.Split(cfg.Brokers, ",")...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5*time.Millisecond),
		kgo.RecordDeliveryTimeout(10*time.Second),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, err
	}

	return &Sink{client: client, topic: cfg.Topic, logger: logger}, nil
}

// Publish produces the event asynchronously. Failures are logged, not
// returned: the event is already durable in the store.
func (s *Sink) Publish(ctx context.Context, event audit.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.ErrorContext(ctx, "marshal audit event", "error", err.Error(), "event_id", event.ID)
		return
	}

	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.SubjectID),
		Value: payload,
	}
	s.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			s.logger.Error("audit event publish failed", "error", err.Error(), "event_id", event.ID)
		}
	})
}

// Close flushes buffered records and releases the client.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.client.Flush(ctx); err != nil {
		return err
	}
	s.client.Close()
	return nil
}

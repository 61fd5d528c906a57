package audit

import (
	"context"

	"github.com/google/uuid"

	"consentd/pkg/requestcontext"
)

// Sink receives audit events after durable storage, e.g. a Kafka producer.
// Delivery is best-effort; the store is the system of record.
type Sink interface {
	Publish(ctx context.Context, event Event)
}

// Publisher captures structured audit events. It is append-only and uses the
// storage layer for persistence so tests can swap sinks easily.
type Publisher struct {
	store Store
	sink  Sink
}

func NewPublisher(store Store, sink Sink) *Publisher {
	return &Publisher{store: store, sink: sink}
}

func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if err := p.store.Append(ctx, event); err != nil {
		return err
	}
	if p.sink != nil {
		p.sink.Publish(ctx, event)
	}
	return nil
}

func (p *Publisher) ListBySubject(ctx context.Context, subjectID string) ([]Event, error) {
	return p.store.ListBySubject(ctx, subjectID)
}

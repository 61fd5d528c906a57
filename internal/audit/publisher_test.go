package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consentd/pkg/requestcontext"
)

type recordingSink struct {
	events []Event
}

func (s *recordingSink) Publish(_ context.Context, event Event) {
	s.events = append(s.events, event)
}

func TestEmit_FillsDefaults(t *testing.T) {
	store := NewInMemoryStore()
	publisher := NewPublisher(store, nil)

	now := time.Date(2026, 5, 5, 10, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)
	ctx = requestcontext.WithRequestID(ctx, "req-42")

	err := publisher.Emit(ctx, Event{
		Action:    ActionConsentGranted,
		SubjectID: "subject-1",
	})
	require.NoError(t, err)

	events := store.All()
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].ID)
	assert.Equal(t, now, events[0].Timestamp)
	assert.Equal(t, "req-42", events[0].RequestID)
}

func TestEmit_SinkReceivesStoredEvent(t *testing.T) {
	store := NewInMemoryStore()
	sink := &recordingSink{}
	publisher := NewPublisher(store, sink)

	err := publisher.Emit(context.Background(), Event{
		Action:    ActionPolicyActivated,
		PolicyID:  "pol-1",
		RequestID: "req-1",
	})
	require.NoError(t, err)

	require.Len(t, sink.events, 1)
	assert.Equal(t, ActionPolicyActivated, sink.events[0].Action)
	// The sink sees the same enriched event the store persisted.
	assert.Equal(t, store.All()[0].ID, sink.events[0].ID)
}

func TestListBySubject_FiltersEvents(t *testing.T) {
	store := NewInMemoryStore()
	publisher := NewPublisher(store, nil)
	ctx := context.Background()

	require.NoError(t, publisher.Emit(ctx, Event{Action: ActionConsentGranted, SubjectID: "s1"}))
	require.NoError(t, publisher.Emit(ctx, Event{Action: ActionConsentGranted, SubjectID: "s2"}))
	require.NoError(t, publisher.Emit(ctx, Event{Action: ActionConsentRevoked, SubjectID: "s1"}))

	events, err := publisher.ListBySubject(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, ActionConsentRevoked, events[1].Action)
}

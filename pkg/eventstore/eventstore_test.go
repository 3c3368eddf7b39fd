// pkg/eventstore/eventstore_test.go
package eventstore_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"cantina/pkg/eventstore"
)

func TestAppendAndLoad(t *testing.T) {
	store := eventstore.NewMemoryStore()
	aggregateID := uuid.New()

	for v := 1; v <= 3; v++ {
		err := store.Append(context.Background(), eventstore.Event{
			AggregateID:   aggregateID,
			AggregateType: "order",
			EventType:     "OrderStatusChanged",
			EventData:     json.RawMessage(`{}`),
			Version:       v,
		})
		require.NoError(t, err)
	}

	events, err := store.Load(context.Background(), aggregateID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, e := range events {
		require.Equal(t, i+1, e.Version)
	}
}

func TestAppendDetectsVersionConflict(t *testing.T) {
	store := eventstore.NewMemoryStore()
	aggregateID := uuid.New()

	event := eventstore.Event{
		AggregateID:   aggregateID,
		AggregateType: "order",
		EventType:     "OrderStatusChanged",
		EventData:     json.RawMessage(`{}`),
		Version:       1,
	}
	require.NoError(t, store.Append(context.Background(), event))

	err := store.Append(context.Background(), event)
	require.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)
}

func TestLoadIsScopedToAggregate(t *testing.T) {
	store := eventstore.NewMemoryStore()
	a, b := uuid.New(), uuid.New()

	require.NoError(t, store.Append(context.Background(), eventstore.Event{
		AggregateID: a, AggregateType: "order", EventType: "OrderStatusChanged", Version: 1,
	}))
	require.NoError(t, store.Append(context.Background(), eventstore.Event{
		AggregateID: b, AggregateType: "payment_intent", EventType: "payment.approved", Version: 1,
	}))

	events, err := store.Load(context.Background(), a)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, a, events[0].AggregateID)
}

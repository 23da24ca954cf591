package events

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troupe-sh/troupe/pkg/schema"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestBus_DeliversInOrder(t *testing.T) {
	bus := NewBus(discardLogger())
	var got []string
	bus.Subscribe("first", HandlerFunc(func(_ context.Context, e Event) error {
		got = append(got, "first:"+e.Type)
		return nil
	}))
	bus.Subscribe("second", HandlerFunc(func(_ context.Context, e Event) error {
		got = append(got, "second:"+e.Type)
		return nil
	}))

	bus.Publish(context.Background(), Event{Type: schema.EventWorkflowStarted, WorkflowID: "wf"})
	assert.Equal(t, []string{"first:workflow_started", "second:workflow_started"}, got)
}

func TestBus_SubscriberErrorDoesNotBlockOthers(t *testing.T) {
	bus := NewBus(discardLogger())
	var delivered int
	bus.Subscribe("broken", HandlerFunc(func(context.Context, Event) error {
		return errors.New("boom")
	}))
	bus.Subscribe("healthy", HandlerFunc(func(context.Context, Event) error {
		delivered++
		return nil
	}))

	bus.Publish(context.Background(), Event{Type: schema.EventStateStarted})
	assert.Equal(t, 1, delivered)
}

func TestBus_SubscriberPanicIsContained(t *testing.T) {
	bus := NewBus(discardLogger())
	var delivered int
	bus.Subscribe("panics", HandlerFunc(func(context.Context, Event) error {
		panic("subscriber bug")
	}))
	bus.Subscribe("healthy", HandlerFunc(func(context.Context, Event) error {
		delivered++
		return nil
	}))

	require.NotPanics(t, func() {
		bus.Publish(context.Background(), Event{Type: schema.EventError})
	})
	assert.Equal(t, 1, delivered)
}

func TestBus_StampsTimestamp(t *testing.T) {
	bus := NewBus(discardLogger())
	var seen Event
	bus.Subscribe("capture", HandlerFunc(func(_ context.Context, e Event) error {
		seen = e
		return nil
	}))
	bus.Publish(context.Background(), Event{Type: schema.EventTransition})
	assert.False(t, seen.Timestamp.IsZero())
}

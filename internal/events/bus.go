// Package events implements the synchronous lifecycle event bus decoupling
// side effects (logging, persistence of the audit trail, consoles) from the
// orchestration control flow.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Event is one lifecycle occurrence within a workflow run. Type is one of the
// schema.Event* constants.
type Event struct {
	Type       string         `json:"type"`
	WorkflowID string         `json:"workflow_id"`
	AgentID    string         `json:"agent_id,omitempty"`
	State      string         `json:"state,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Handler consumes events. Handlers run synchronously on the publisher's
// goroutine and must not block for long.
type Handler interface {
	HandleEvent(ctx context.Context, e Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, e Event) error

func (f HandlerFunc) HandleEvent(ctx context.Context, e Event) error { return f(ctx, e) }

type subscription struct {
	name    string
	handler Handler
}

// Bus is a synchronous multi-subscriber event bus. A subscriber fault (error
// or panic) is caught and logged at the bus boundary; it never propagates and
// never prevents delivery to the remaining subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	logger *slog.Logger
}

// NewBus creates an event bus logging subscriber faults to logger.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Subscribe registers a handler under a name used in fault logs.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{name: name, handler: h})
}

// Publish delivers the event to every subscriber in registration order.
func (b *Bus) Publish(ctx context.Context, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.deliver(ctx, sub, e)
	}
}

func (b *Bus) deliver(ctx context.Context, sub subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked",
				"subscriber", sub.name, "event", e.Type, "panic", r)
		}
	}()
	if err := sub.handler.HandleEvent(ctx, e); err != nil {
		b.logger.Error("event subscriber failed",
			"subscriber", sub.name, "event", e.Type, "error", err)
	}
}

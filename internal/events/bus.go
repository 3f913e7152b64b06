// Package events provides the in-process event bus that decouples the cache
// store, universe store and scheduler from the views that observe them.
// Subscribers register per event type; publishing is synchronous and
// fire-and-forget, and a panicking handler never takes down the publisher.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType identifies a category of event.
type EventType string

const (
	// SnapshotUpdated fires when the cache store publishes a new snapshot.
	SnapshotUpdated EventType = "snapshot_updated"
	// ScanCompleted fires when a scanner suite run finishes.
	ScanCompleted EventType = "scan_completed"
	// SymbolsChanged fires when the symbol universe mutates.
	SymbolsChanged EventType = "symbols_changed"
	// RefreshProgress fires for each phase of a full-app refresh.
	RefreshProgress EventType = "refresh_progress"
	// SourceHealthChanged fires when provider health transitions.
	SourceHealthChanged EventType = "source_health_changed"
)

// Event is one published occurrence.
type Event struct {
	Type      EventType   `json:"type"`
	Module    string      `json:"module"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Handler receives published events.
type Handler func(event *Event)

// Bus is a synchronous publish/subscribe bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	log      zerolog.Logger
}

// NewBus creates an empty bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
		log:      log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a handler for one event type and returns an
// unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
	idx := len(b.handlers[eventType]) - 1

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		handlers := b.handlers[eventType]
		if idx < len(handlers) && handlers[idx] != nil {
			handlers[idx] = nil
		}
	}
}

// Publish delivers an event to every subscriber of its type, synchronously.
// Handler panics are swallowed; one broken listener must not break emitters.
func (b *Bus) Publish(eventType EventType, module string, data interface{}) {
	event := &Event{
		Type:      eventType,
		Module:    module,
		Timestamp: time.Now(),
		Data:      data,
	}

	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[eventType]))
	copy(handlers, b.handlers[eventType])
	b.mu.RUnlock()

	for _, handler := range handlers {
		if handler == nil {
			continue
		}
		b.deliver(event, handler)
	}
}

func (b *Bus) deliver(event *Event, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("event_type", string(event.Type)).
				Interface("panic", r).
				Msg("Event handler panicked")
		}
	}()
	handler(event)
}

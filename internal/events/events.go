package events

import (
	"sync"
	"time"

	"reserva/internal/model"
)

// Submission event types.
const (
	TypeSubmitted = "submitted"
	TypeQueued    = "queued"
	TypeReplayed  = "replayed"
	TypeFailed    = "failed"
)

// Event describes something that happened to one submission record.
type Event struct {
	Type       string
	// SessionKey is the wizard key the record came from, when known.
	SessionKey string
	Record     model.SubmissionRecord
	Detail     string
	CreatedAt  time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	onError     func(Event, error)
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// OnError sets a callback for handler failures.
func (b *EventBus) OnError(fn func(Event, error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = fn
}

// Subscribe registers a handler for the given event types.
func (b *EventBus) Subscribe(handler EventHandler, eventTypes ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range eventTypes {
		b.subscribers[t] = append(b.subscribers[t], handler)
	}
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	onError := b.onError
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	// Handlers run synchronously; caller decides concurrency model.
	for _, handler := range handlers {
		if err := handler(event); err != nil && onError != nil {
			onError(event, err)
		}
	}
}

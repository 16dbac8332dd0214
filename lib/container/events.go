package container

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType categorizes container events.
type EventType int

const (
	// EventStarted is emitted when Start completes.
	EventStarted EventType = iota
	// EventStopped is emitted when teardown completes.
	EventStopped
	// EventComponentBuilt is emitted when the container constructs a component.
	EventComponentBuilt
	// EventComponentSupplied is emitted when a component was registered by the caller.
	EventComponentSupplied
	// EventTeardownFailed is emitted when a teardown callback returns an error.
	EventTeardownFailed
	// EventStateChanged is emitted on every state transition.
	EventStateChanged
)

// String returns a human-readable name for the event type.
func (t EventType) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	case EventComponentBuilt:
		return "component_built"
	case EventComponentSupplied:
		return "component_supplied"
	case EventTeardownFailed:
		return "teardown_failed"
	case EventStateChanged:
		return "state_changed"
	default:
		return "unknown"
	}
}

// Event is a container lifecycle event.
type Event struct {
	// Type is the category of this event.
	Type EventType

	// Timestamp is when the event occurred.
	Timestamp time.Time

	// Component names the component for component and teardown events.
	Component Kind

	// Error is set for EventTeardownFailed.
	Error error

	// Message is a human-readable description of the event.
	Message string

	// Data holds {"old": State, "new": State} for EventStateChanged.
	Data any
}

// eventEmitter buffers events for a single consumer.
type eventEmitter struct {
	mu           sync.Mutex
	events       chan Event
	closed       bool
	droppedCount atomic.Uint64
}

func newEventEmitter(bufferSize int) *eventEmitter {
	if bufferSize < 1 {
		bufferSize = 64
	}
	return &eventEmitter{events: make(chan Event, bufferSize)}
}

// emit never blocks; when the buffer is full the event is dropped and counted.
func (e *eventEmitter) emit(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case e.events <- event:
	default:
		e.droppedCount.Add(1)
	}
}

func (e *eventEmitter) emitComponent(t EventType, kind Kind, message string) {
	e.emit(Event{Type: t, Component: kind, Message: message})
}

func (e *eventEmitter) emitStateChange(oldState, newState State) {
	e.emit(Event{
		Type:    EventStateChanged,
		Message: string(oldState) + " -> " + string(newState),
		Data: map[string]any{
			"old": oldState,
			"new": newState,
		},
	})
}

func (e *eventEmitter) channel() <-chan Event {
	return e.events
}

func (e *eventEmitter) droppedEvents() uint64 {
	return e.droppedCount.Load()
}

func (e *eventEmitter) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.events)
	}
}

package workflow

import (
	"sync"
	"time"
)

// EventType represents the type of workflow event.
type EventType string

const (
	// EventRunStarted is emitted when a run begins executing.
	EventRunStarted EventType = "run_started"

	// EventStepStarted is emitted when a step enters the running state.
	// Skipped steps never enter running and emit only a completion
	// event; foreach steps emit one started event per item.
	EventStepStarted EventType = "step_started"

	// EventStepCompleted is emitted when a step reaches a terminal state.
	EventStepCompleted EventType = "step_completed"

	// EventRunFinished is emitted when the run reaches a terminal status.
	EventRunFinished EventType = "run_finished"
)

// Event describes one lifecycle transition during a run.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	Workflow  string    `json:"workflow"`
	StepID    string    `json:"step_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventListener is a function that handles workflow events. Listeners
// are invoked synchronously on the emitting goroutine and must be fast
// and non-blocking; parallel group members emit concurrently.
type EventListener func(event Event)

// EventEmitter dispatches run lifecycle events to registered listeners.
type EventEmitter struct {
	mu        sync.RWMutex
	listeners map[EventType][]EventListener
}

// NewEventEmitter creates a new event emitter.
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{
		listeners: make(map[EventType][]EventListener),
	}
}

// On registers a listener for the given event type.
func (e *EventEmitter) On(eventType EventType, listener EventListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[eventType] = append(e.listeners[eventType], listener)
}

// OnAny registers a listener for every event type.
func (e *EventEmitter) OnAny(listener EventListener) {
	e.On(EventRunStarted, listener)
	e.On(EventStepStarted, listener)
	e.On(EventStepCompleted, listener)
	e.On(EventRunFinished, listener)
}

// Emit dispatches an event to its listeners.
func (e *EventEmitter) Emit(event Event) {
	if e == nil {
		return
	}
	e.mu.RLock()
	listeners := e.listeners[event.Type]
	e.mu.RUnlock()
	for _, l := range listeners {
		l(event)
	}
}

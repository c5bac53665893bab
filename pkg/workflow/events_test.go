package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventEmitterDispatch(t *testing.T) {
	emitter := NewEventEmitter()

	var started, finished []Event
	emitter.On(EventRunStarted, func(ev Event) { started = append(started, ev) })
	emitter.On(EventRunFinished, func(ev Event) { finished = append(finished, ev) })

	emitter.Emit(Event{Type: EventRunStarted, RunID: "r1", Timestamp: time.Now()})
	emitter.Emit(Event{Type: EventStepStarted, RunID: "r1", StepID: "s1"})
	emitter.Emit(Event{Type: EventRunFinished, RunID: "r1", Status: "completed"})

	assert.Len(t, started, 1)
	assert.Len(t, finished, 1)
	assert.Equal(t, "completed", finished[0].Status)
}

func TestEventEmitterOnAny(t *testing.T) {
	emitter := NewEventEmitter()

	var count int
	emitter.OnAny(func(ev Event) { count++ })

	for _, typ := range []EventType{EventRunStarted, EventStepStarted, EventStepCompleted, EventRunFinished} {
		emitter.Emit(Event{Type: typ})
	}
	assert.Equal(t, 4, count)
}

func TestEventEmitterNilSafe(t *testing.T) {
	var emitter *EventEmitter
	assert.NotPanics(t, func() {
		emitter.Emit(Event{Type: EventRunStarted})
	})
}

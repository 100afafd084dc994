package runtime

import (
	"time"
)

// EventKind identifies the type of event emitted by the runtime.
type EventKind string

const (
	// EventRunStarted is emitted when a run begins, before any source is read.
	EventRunStarted EventKind = "run.started"

	// EventPhaseStarted is emitted when the parse or eval phase begins.
	EventPhaseStarted EventKind = "phase.started"

	// EventPhaseFinished is emitted when a phase completes successfully.
	EventPhaseFinished EventKind = "phase.finished"

	// EventPhaseFailed is emitted when a phase stops with an error.
	EventPhaseFailed EventKind = "phase.failed"

	// EventOutput is emitted after each print writes to the output stream.
	EventOutput EventKind = "output"

	// EventLoopFinished is emitted when a while loop ends.
	EventLoopFinished EventKind = "loop.finished"

	// EventRunFinished is emitted when a run completes, successfully or not.
	EventRunFinished EventKind = "run.finished"
)

// String returns the string representation of the EventKind.
func (k EventKind) String() string {
	return string(k)
}

// Phase names a stage of a run.
type Phase string

const (
	PhaseParse Phase = "parse"
	PhaseEval  Phase = "eval"
)

// Run statuses carried in the "status" payload of run.finished.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Event is a structured, streamable record of what happened during a run.
// Events are kept small: print output is summarized by size, not copied.
type Event struct {
	// Kind identifies the event type.
	Kind EventKind

	// RunID is the unique identifier for this run.
	RunID string

	// Phase is the stage that produced this event (empty for run-level events).
	Phase Phase

	// Time is when the event occurred.
	Time time.Time

	// Elapsed is the duration since the run or phase started.
	Elapsed time.Duration

	// Payload contains event-specific data.
	Payload map[string]any

	// Seq is a monotonic sequence number per run (1-indexed).
	Seq uint64

	// TraceID is the OpenTelemetry trace ID (hex-encoded, empty when OTel inactive).
	TraceID string

	// SpanID is the OpenTelemetry span ID (hex-encoded, empty when OTel inactive).
	SpanID string
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(kind EventKind, runID string) Event {
	return Event{
		Kind:    kind,
		RunID:   runID,
		Time:    time.Now(),
		Payload: make(map[string]any),
	}
}

// WithPhase sets the phase on the event.
func (e Event) WithPhase(phase Phase) Event {
	e.Phase = phase
	return e
}

// WithTime overrides the event timestamp.
func (e Event) WithTime(t time.Time) Event {
	e.Time = t
	return e
}

// WithElapsed sets the elapsed duration on the event.
func (e Event) WithElapsed(elapsed time.Duration) Event {
	e.Elapsed = elapsed
	return e
}

// WithPayload adds a key-value pair to the event payload.
func (e Event) WithPayload(key string, value any) Event {
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	}
	e.Payload[key] = value
	return e
}

// EventEmitter is a function type for emitting events.
type EventEmitter func(Event)

// EventEmitterDecorator wraps an emitter to add cross-cutting behavior.
// Typical uses include enriching emitted events (for example with trace metadata).
type EventEmitterDecorator func(EventEmitter) EventEmitter

// EventPublisher can publish events to external subscribers.
// This interface is satisfied by bus.EventBus, allowing the runtime
// to distribute events without importing the bus package directly.
type EventPublisher interface {
	Publish(event Event)
}

// EventHandler is a function type for handling events.
// Implementations can log, store, or forward events as needed.
type EventHandler func(Event)

// MultiEventHandler combines multiple handlers into one.
func MultiEventHandler(handlers ...EventHandler) EventHandler {
	return func(e Event) {
		for _, h := range handlers {
			if h != nil {
				h(e)
			}
		}
	}
}

// PayloadString returns the payload value for key as a string, or "".
func (e Event) PayloadString(key string) string {
	s, _ := e.Payload[key].(string)
	return s
}

// PayloadInt returns the payload value for key as an int64. Numeric values
// decoded from JSON arrive as float64 and are converted.
func (e Event) PayloadInt(key string) int64 {
	switch v := e.Payload[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

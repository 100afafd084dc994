package otel

import (
	"github.com/petal-labs/petalscript/runtime"
)

// EnrichEmitter wraps an EventEmitter with OpenTelemetry trace context.
// Events that belong to a phase take the phase span's IDs; others, or
// phase events with no live phase span, fall back to the run span. When no
// span is active the event passes through unchanged.
func EnrichEmitter(emit runtime.EventEmitter, tracing *TracingHandler) runtime.EventEmitter {
	return func(e runtime.Event) {
		if e.Phase != "" {
			sc := tracing.ActiveSpanContext(e.RunID, e.Phase)
			if sc.IsValid() {
				e.TraceID = sc.TraceID().String()
				e.SpanID = sc.SpanID().String()
			}
		}
		if e.TraceID == "" && e.RunID != "" {
			sc := tracing.ActiveRunSpanContext(e.RunID)
			if sc.IsValid() {
				e.TraceID = sc.TraceID().String()
				e.SpanID = sc.SpanID().String()
			}
		}
		emit(e)
	}
}

// Decorator returns a runtime.EventEmitterDecorator applying EnrichEmitter.
func Decorator(tracing *TracingHandler) runtime.EventEmitterDecorator {
	return func(emit runtime.EventEmitter) runtime.EventEmitter {
		return EnrichEmitter(emit, tracing)
	}
}

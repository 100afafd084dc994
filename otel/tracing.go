// Package otel provides OpenTelemetry integration for petalscript runtime events.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/petalscript/runtime"
)

// TracingHandler translates runtime events into OpenTelemetry spans: one
// root span per run and a child span per phase. Output and loop events
// become span events on the eval span.
type TracingHandler struct {
	tracer trace.Tracer

	mu         sync.RWMutex
	runSpans   map[string]trace.Span      // runID -> span
	runCtxs    map[string]context.Context // runID -> context (for child spans)
	phaseSpans map[string]trace.Span      // runID:phase -> span
}

// NewTracingHandler creates a new TracingHandler that uses the given tracer
// to create spans from runtime events.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer:     tracer,
		runSpans:   make(map[string]trace.Span),
		runCtxs:    make(map[string]context.Context),
		phaseSpans: make(map[string]trace.Span),
	}
}

// Handle processes a runtime event and creates or ends spans accordingly.
// It implements runtime.EventHandler semantics.
func (h *TracingHandler) Handle(e runtime.Event) {
	switch e.Kind {
	case runtime.EventRunStarted:
		h.handleRunStarted(e)
	case runtime.EventPhaseStarted:
		h.handlePhaseStarted(e)
	case runtime.EventPhaseFinished, runtime.EventPhaseFailed:
		h.handlePhaseEnded(e)
	case runtime.EventOutput, runtime.EventLoopFinished:
		h.handleSpanEvent(e)
	case runtime.EventRunFinished:
		h.handleRunFinished(e)
	}
}

func phaseKey(runID string, phase runtime.Phase) string {
	return runID + ":" + string(phase)
}

func (h *TracingHandler) handleRunStarted(e runtime.Event) {
	source := e.PayloadString("source")
	spanName := "run:" + e.RunID
	if source != "" {
		spanName = "run:" + source
	}

	ctx, span := h.tracer.Start(context.Background(), spanName,
		trace.WithAttributes(
			attribute.String("petalscript.run_id", e.RunID),
			attribute.String("petalscript.source", source),
		),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.runSpans[e.RunID] = span
	h.runCtxs[e.RunID] = ctx
	h.mu.Unlock()
}

func (h *TracingHandler) handlePhaseStarted(e runtime.Event) {
	h.mu.RLock()
	parentCtx, ok := h.runCtxs[e.RunID]
	h.mu.RUnlock()
	if !ok {
		parentCtx = context.Background()
	}

	_, span := h.tracer.Start(parentCtx, "phase:"+string(e.Phase),
		trace.WithAttributes(
			attribute.String("petalscript.run_id", e.RunID),
			attribute.String("petalscript.phase", string(e.Phase)),
		),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.phaseSpans[phaseKey(e.RunID, e.Phase)] = span
	h.mu.Unlock()
}

func (h *TracingHandler) handlePhaseEnded(e runtime.Event) {
	key := phaseKey(e.RunID, e.Phase)

	h.mu.Lock()
	span, ok := h.phaseSpans[key]
	if ok {
		delete(h.phaseSpans, key)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	span.SetAttributes(attribute.String("petalscript.duration", e.Elapsed.String()))

	if e.Kind == runtime.EventPhaseFailed {
		errMsg := e.PayloadString("error")
		if errMsg == "" {
			errMsg = "unknown error"
		}
		if line := e.PayloadInt("line"); line > 0 {
			span.SetAttributes(
				attribute.Int64("petalscript.error.line", line),
				attribute.String("petalscript.error.kind", e.PayloadString("kind")),
			)
		}
		span.SetStatus(codes.Error, errMsg)
		span.RecordError(spanError(errMsg), trace.WithTimestamp(e.Time))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

func (h *TracingHandler) handleSpanEvent(e runtime.Event) {
	h.mu.RLock()
	span, ok := h.phaseSpans[phaseKey(e.RunID, e.Phase)]
	h.mu.RUnlock()
	if !ok {
		return
	}

	var attrs []attribute.KeyValue
	switch e.Kind {
	case runtime.EventOutput:
		attrs = append(attrs, attribute.Int64("petalscript.output.bytes", e.PayloadInt("bytes")))
	case runtime.EventLoopFinished:
		attrs = append(attrs, attribute.Int64("petalscript.loop.iterations", e.PayloadInt("iterations")))
	}
	span.AddEvent(string(e.Kind), trace.WithTimestamp(e.Time), trace.WithAttributes(attrs...))
}

func (h *TracingHandler) handleRunFinished(e runtime.Event) {
	h.mu.Lock()
	span, ok := h.runSpans[e.RunID]
	if ok {
		delete(h.runSpans, e.RunID)
		delete(h.runCtxs, e.RunID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	status := e.PayloadString("status")
	span.SetAttributes(
		attribute.String("petalscript.duration", e.Elapsed.String()),
		attribute.String("petalscript.status", status),
	)

	if status == runtime.StatusFailed {
		errMsg := e.PayloadString("error")
		if errMsg == "" {
			errMsg = "run failed"
		}
		span.SetStatus(codes.Error, errMsg)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

// ActiveSpanContext returns the SpanContext of the running phase span for
// runID, or an empty SpanContext if none is active.
func (h *TracingHandler) ActiveSpanContext(runID string, phase runtime.Phase) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.phaseSpans[phaseKey(runID, phase)]
	h.mu.RUnlock()

	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

// ActiveRunSpanContext returns the SpanContext for the active run span
// identified by runID. Returns an empty SpanContext if not found.
func (h *TracingHandler) ActiveRunSpanContext(runID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.runSpans[runID]
	h.mu.RUnlock()

	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

// spanError is a simple error type for recording span errors.
type spanError string

func (e spanError) Error() string { return string(e) }

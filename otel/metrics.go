package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/petalscript/runtime"
)

// MetricsHandler translates runtime events into OpenTelemetry metrics.
type MetricsHandler struct {
	runs           metric.Int64Counter
	runFailures    metric.Int64Counter
	outputBytes    metric.Int64Counter
	loopIterations metric.Int64Counter
	runDuration    metric.Float64Histogram
	phaseDuration  metric.Float64Histogram
}

// NewMetricsHandler creates a MetricsHandler that uses the given meter to create
// instruments for recording runtime metrics.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	runs, err := meter.Int64Counter("petalscript.runs",
		metric.WithDescription("Number of finished runs"),
	)
	if err != nil {
		return nil, err
	}

	runFailures, err := meter.Int64Counter("petalscript.run.failures",
		metric.WithDescription("Number of runs that ended with an error"),
	)
	if err != nil {
		return nil, err
	}

	outputBytes, err := meter.Int64Counter("petalscript.output.bytes",
		metric.WithDescription("Bytes written by print"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	loopIterations, err := meter.Int64Counter("petalscript.loop.iterations",
		metric.WithDescription("Completed while loop iterations"),
	)
	if err != nil {
		return nil, err
	}

	runDur, err := meter.Float64Histogram("petalscript.run.duration",
		metric.WithDescription("Duration of a run in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	phaseDur, err := meter.Float64Histogram("petalscript.phase.duration",
		metric.WithDescription("Duration of the parse and eval phases in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		runs:           runs,
		runFailures:    runFailures,
		outputBytes:    outputBytes,
		loopIterations: loopIterations,
		runDuration:    runDur,
		phaseDuration:  phaseDur,
	}, nil
}

// Handle processes a runtime event and records the appropriate metrics.
// It implements runtime.EventHandler semantics.
func (h *MetricsHandler) Handle(e runtime.Event) {
	ctx := context.Background()

	switch e.Kind {
	case runtime.EventOutput:
		h.outputBytes.Add(ctx, e.PayloadInt("bytes"))

	case runtime.EventLoopFinished:
		h.loopIterations.Add(ctx, e.PayloadInt("iterations"))

	case runtime.EventPhaseFinished, runtime.EventPhaseFailed:
		outcome := "ok"
		if e.Kind == runtime.EventPhaseFailed {
			outcome = "error"
		}
		h.phaseDuration.Record(ctx, e.Elapsed.Seconds(), metric.WithAttributes(
			attribute.String("phase", string(e.Phase)),
			attribute.String("outcome", outcome),
		))

	case runtime.EventRunFinished:
		status := e.PayloadString("status")
		attrs := metric.WithAttributes(attribute.String("status", status))
		h.runs.Add(ctx, 1, attrs)
		h.runDuration.Record(ctx, e.Elapsed.Seconds(), attrs)
		if status == runtime.StatusFailed {
			h.runFailures.Add(ctx, 1)
		}
	}
}

package otel_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	petalotel "github.com/petal-labs/petalscript/otel"
	"github.com/petal-labs/petalscript/runtime"
)

// newTestMeter returns a meter backed by a manual reader for collecting metrics in tests.
func newTestMeter() (*metric.ManualReader, *metric.MeterProvider) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	return reader, mp
}

func collectMetrics(t *testing.T, reader *metric.ManualReader) *metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, scope := range rm.ScopeMetrics {
		for i := range scope.Metrics {
			if scope.Metrics[i].Name == name {
				return &scope.Metrics[i]
			}
		}
	}
	return nil
}

func sumInt64(t *testing.T, rm *metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	m := findMetric(rm, name)
	if m == nil {
		t.Fatalf("metric %s not recorded", name)
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %s has type %T, want Sum[int64]", name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func histogramCount(t *testing.T, rm *metricdata.ResourceMetrics, name string) uint64 {
	t.Helper()
	m := findMetric(rm, name)
	if m == nil {
		t.Fatalf("metric %s not recorded", name)
	}
	hist, ok := m.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric %s has type %T, want Histogram[float64]", name, m.Data)
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	return count
}

func TestMetricsHandler_RecordsRun(t *testing.T) {
	reader, mp := newTestMeter()
	h, err := petalotel.NewMetricsHandler(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetricsHandler: %v", err)
	}

	src := `{ set i 0 while less i 3 { print "ab" set i add i 1 } }`
	if err := runScript(t, src, h.Handle); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := runScript(t, "div 1 0", h.Handle); err == nil {
		t.Fatal("expected divide by zero")
	}

	rm := collectMetrics(t, reader)

	if got := sumInt64(t, rm, "petalscript.runs"); got != 2 {
		t.Errorf("petalscript.runs = %d, want 2", got)
	}
	if got := sumInt64(t, rm, "petalscript.run.failures"); got != 1 {
		t.Errorf("petalscript.run.failures = %d, want 1", got)
	}
	if got := sumInt64(t, rm, "petalscript.output.bytes"); got != 6 {
		t.Errorf("petalscript.output.bytes = %d, want 6", got)
	}
	if got := sumInt64(t, rm, "petalscript.loop.iterations"); got != 3 {
		t.Errorf("petalscript.loop.iterations = %d, want 3", got)
	}
	if got := histogramCount(t, rm, "petalscript.run.duration"); got != 2 {
		t.Errorf("petalscript.run.duration count = %d, want 2", got)
	}
	// parse+eval for both runs.
	if got := histogramCount(t, rm, "petalscript.phase.duration"); got != 4 {
		t.Errorf("petalscript.phase.duration count = %d, want 4", got)
	}
}

func TestMetricsHandler_IgnoresOtherEvents(t *testing.T) {
	reader, mp := newTestMeter()
	h, err := petalotel.NewMetricsHandler(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetricsHandler: %v", err)
	}

	h.Handle(runtime.Event{Kind: runtime.EventRunStarted, RunID: "r", Time: time.Now()})
	h.Handle(runtime.Event{Kind: runtime.EventPhaseStarted, RunID: "r", Phase: runtime.PhaseParse})

	rm := collectMetrics(t, reader)
	if m := findMetric(rm, "petalscript.runs"); m != nil {
		t.Errorf("unexpected petalscript.runs data: %+v", m.Data)
	}
}

func TestWriteMetrics(t *testing.T) {
	mp, reader := petalotel.NewMeterProvider()
	h, err := petalotel.NewMetricsHandler(mp.Meter(petalotel.InstrumentationName))
	if err != nil {
		t.Fatalf("NewMetricsHandler: %v", err)
	}
	if err := runScript(t, `print "hello"`, h.Handle); err != nil {
		t.Fatalf("run: %v", err)
	}

	var buf bytes.Buffer
	if err := petalotel.WriteMetrics(context.Background(), &buf, reader); err != nil {
		t.Fatalf("WriteMetrics: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"petalscript.output.bytes 5\n",
		"petalscript.runs 1\n",
		"petalscript.run.duration count=1 sum=",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteMetrics_Empty(t *testing.T) {
	_, reader := petalotel.NewMeterProvider()
	var buf bytes.Buffer
	if err := petalotel.WriteMetrics(context.Background(), &buf, reader); err != nil {
		t.Fatalf("WriteMetrics: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("output = %q, want empty", buf.String())
	}
}

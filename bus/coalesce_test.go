package bus

import (
	"strings"
	"testing"

	"github.com/petal-labs/petalscript/runtime"
)

func output(runID string, n int) runtime.Event {
	return runtime.NewEvent(runtime.EventOutput, runID).WithPayload("bytes", n)
}

func TestOutputCoalescer_MergesUntilOtherEvent(t *testing.T) {
	var got []runtime.Event
	c := NewOutputCoalescer(func(e runtime.Event) { got = append(got, e) }, CoalesceConfig{})

	c.Publish(runtime.NewEvent(runtime.EventPhaseStarted, "r"))
	c.Publish(output("r", 2))
	c.Publish(output("r", 3))
	c.Publish(output("r", 5))
	if len(got) != 1 {
		t.Fatalf("forwarded %d events before flush, want 1", len(got))
	}

	c.Publish(runtime.NewEvent(runtime.EventLoopFinished, "r"))
	if len(got) != 3 {
		t.Fatalf("forwarded %d events, want 3", len(got))
	}
	merged := got[1]
	if merged.Kind != runtime.EventOutput {
		t.Fatalf("got[1].Kind = %s, want output", merged.Kind)
	}
	if merged.PayloadInt("bytes") != 10 || merged.PayloadInt("prints") != 3 {
		t.Errorf("merged payload = %v", merged.Payload)
	}
	if got[2].Kind != runtime.EventLoopFinished {
		t.Errorf("got[2].Kind = %s, want loop.finished", got[2].Kind)
	}
}

func TestOutputCoalescer_MaxBatch(t *testing.T) {
	var got []runtime.Event
	c := NewOutputCoalescer(func(e runtime.Event) { got = append(got, e) }, CoalesceConfig{MaxBatch: 2})

	for i := 0; i < 5; i++ {
		c.Publish(output("r", 1))
	}
	if len(got) != 2 {
		t.Fatalf("forwarded %d batches, want 2", len(got))
	}
	c.Flush()
	if len(got) != 3 || got[2].PayloadInt("prints") != 1 {
		t.Errorf("after Flush got %d events, last %v", len(got), got[len(got)-1].Payload)
	}
}

func TestOutputCoalescer_RunsAreSeparate(t *testing.T) {
	var got []runtime.Event
	c := NewOutputCoalescer(func(e runtime.Event) { got = append(got, e) }, CoalesceConfig{})

	c.Publish(output("a", 1))
	c.Publish(output("b", 1))
	c.Publish(runtime.NewEvent(runtime.EventRunFinished, "a"))

	if len(got) != 2 || got[0].RunID != "a" || got[1].Kind != runtime.EventRunFinished {
		t.Fatalf("got %v", kindsOf(got))
	}
	c.Flush()
	if len(got) != 3 || got[2].RunID != "b" {
		t.Errorf("b's output not flushed: %v", kindsOf(got))
	}
}

func TestOutputCoalescer_PublisherPathOnly(t *testing.T) {
	var handled, published []runtime.Event
	c := NewOutputCoalescer(func(e runtime.Event) { published = append(published, e) }, CoalesceConfig{})

	_, err := runtime.NewRuntime().Run(t.Context(),
		strings.NewReader(`{ set i 0 while less i 4 { print "ab" set i add i 1 } }`),
		runtime.RunOptions{
			EventHandler: func(e runtime.Event) { handled = append(handled, e) },
			EventBus:     c,
		})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if n := countKind(handled, runtime.EventOutput); n != 4 {
		t.Errorf("handler saw %d output events, want 4", n)
	}

	var outputs []runtime.Event
	var lastSeq uint64
	for _, e := range published {
		if e.Seq <= lastSeq {
			t.Errorf("published Seq %d after %d, want increasing", e.Seq, lastSeq)
		}
		lastSeq = e.Seq
		if e.Kind == runtime.EventOutput {
			outputs = append(outputs, e)
		}
	}
	if len(outputs) != 1 || outputs[0].PayloadInt("bytes") != 8 || outputs[0].PayloadInt("prints") != 4 {
		t.Errorf("outputs = %v", outputs)
	}
	if last := published[len(published)-1]; last.Kind != runtime.EventRunFinished {
		t.Errorf("last published = %s, want %s", last.Kind, runtime.EventRunFinished)
	}
}

func countKind(events []runtime.Event, kind runtime.EventKind) int {
	n := 0
	for _, e := range events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func kindsOf(events []runtime.Event) []runtime.EventKind {
	out := make([]runtime.EventKind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

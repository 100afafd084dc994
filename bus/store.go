package bus

import (
	"context"
	"time"

	"github.com/petal-labs/petalscript/runtime"
)

// EventStore persists events for replay.
type EventStore interface {
	// Append stores an event.
	Append(ctx context.Context, event runtime.Event) error

	// List returns events for a run, optionally filtered.
	// afterSeq: return events with Seq > afterSeq (0 means all)
	// limit: max events to return (0 means no limit)
	List(ctx context.Context, runID string, afterSeq uint64, limit int) ([]runtime.Event, error)

	// LatestSeq returns the highest Seq for a run (0 if no events).
	LatestSeq(ctx context.Context, runID string) (uint64, error)
}

// RunSummary is one row of run history, assembled from a run's
// run.started and run.finished events.
type RunSummary struct {
	RunID   string
	Source  string
	Started time.Time
	// Status is empty while a run is still in progress (or was killed).
	Status  string
	Error   string
	Elapsed time.Duration
}

// RunLister is implemented by stores that can summarize the runs they hold.
type RunLister interface {
	// Runs returns summaries newest first. limit <= 0 means no limit.
	Runs(ctx context.Context, limit int) ([]RunSummary, error)
}

// summarize folds a run's events into a RunSummary.
func summarize(runID string, events []runtime.Event) (RunSummary, bool) {
	s := RunSummary{RunID: runID}
	started := false
	for _, e := range events {
		switch e.Kind {
		case runtime.EventRunStarted:
			started = true
			s.Source = e.PayloadString("source")
			s.Started = e.Time
		case runtime.EventRunFinished:
			s.Status = e.PayloadString("status")
			s.Error = e.PayloadString("error")
			s.Elapsed = e.Elapsed
		}
	}
	return s, started
}

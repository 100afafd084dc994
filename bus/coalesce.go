package bus

import (
	"sync"

	"github.com/petal-labs/petalscript/runtime"
)

// CoalesceConfig controls OutputCoalescer.
type CoalesceConfig struct {
	// MaxBatch is how many output events may be merged before the combined
	// event is released (default: 256).
	MaxBatch int
}

// OutputCoalescer merges bursts of output events from the same run into a
// single event, so a print inside a hot loop does not write one history row
// per call. The merged event carries the summed "bytes" and the number of
// merged prints as "prints". Any other event for the run releases the
// pending merge first, so event order is preserved.
type OutputCoalescer struct {
	next     runtime.EventEmitter
	maxBatch int

	mu      sync.Mutex
	pending map[string]*pendingOutput // runID -> merged output
}

type pendingOutput struct {
	event  runtime.Event
	bytes  int64
	prints int64
}

// NewOutputCoalescer creates a coalescer that forwards to next, usually an
// EventBus's Publish. Handlers attached to the run directly still see every
// output event.
func NewOutputCoalescer(next runtime.EventEmitter, cfg CoalesceConfig) *OutputCoalescer {
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 256
	}
	return &OutputCoalescer{
		next:     next,
		maxBatch: maxBatch,
		pending:  make(map[string]*pendingOutput),
	}
}

// Publish forwards e, merging it into the pending output event if it is one.
func (c *OutputCoalescer) Publish(e runtime.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e.Kind != runtime.EventOutput {
		c.flushLocked(e.RunID)
		c.next(e)
		return
	}

	p, ok := c.pending[e.RunID]
	if !ok {
		p = &pendingOutput{event: e}
		c.pending[e.RunID] = p
	}
	p.bytes += e.PayloadInt("bytes")
	p.prints++
	if p.prints >= int64(c.maxBatch) {
		c.flushLocked(e.RunID)
	}
}

// Flush releases every pending merged event.
func (c *OutputCoalescer) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for runID := range c.pending {
		c.flushLocked(runID)
	}
}

func (c *OutputCoalescer) flushLocked(runID string) {
	p, ok := c.pending[runID]
	if !ok {
		return
	}
	delete(c.pending, runID)

	e := p.event
	e.Payload = map[string]any{
		"bytes":  p.bytes,
		"prints": p.prints,
	}
	c.next(e)
}

var _ runtime.EventPublisher = (*OutputCoalescer)(nil)

package bus

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/petal-labs/petalscript/runtime"
)

// allRuns is the subscription key for subscribers that see every run.
const allRuns = ""

// MemBusConfig configures an in-memory event bus.
type MemBusConfig struct {
	// SubscriberBufferSize is the channel buffer size per subscriber (default: 256).
	SubscriberBufferSize int
}

// MemBus is an in-memory event bus. Slow subscribers lose events rather
// than block the run that publishes them; Dropped reports how many.
type MemBus struct {
	mu      sync.RWMutex
	subs    map[string][]*memSub // runID (or allRuns) -> subscribers
	bufSize int
	closed  bool
	dropped atomic.Uint64
}

// NewMemBus creates a new in-memory event bus with the given configuration.
func NewMemBus(config MemBusConfig) *MemBus {
	bufSize := config.SubscriberBufferSize
	if bufSize <= 0 {
		bufSize = 256
	}
	return &MemBus{
		subs:    make(map[string][]*memSub),
		bufSize: bufSize,
	}
}

// Publish sends an event to the subscribers of its run and to every
// all-runs subscriber. Events published after Close are dropped.
func (b *MemBus) Publish(event runtime.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, key := range []string{event.RunID, allRuns} {
		for _, sub := range b.subs[key] {
			if !sub.send(event) {
				b.dropped.Add(1)
			}
		}
	}
}

// Subscribe registers a subscriber for a specific run.
func (b *MemBus) Subscribe(runID string) Subscription {
	return b.add(runID)
}

// SubscribeAll registers a subscriber that receives events from all runs.
func (b *MemBus) SubscribeAll() Subscription {
	return b.add(allRuns)
}

func (b *MemBus) add(key string) *memSub {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &memSub{ch: make(chan runtime.Event, b.bufSize)}
	if b.closed {
		sub.close()
		return sub
	}
	sub.detach = func() { b.remove(key, sub) }
	b.subs[key] = append(b.subs[key], sub)
	return sub
}

func (b *MemBus) remove(key string, sub *memSub) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs[key] = slices.DeleteFunc(b.subs[key], func(s *memSub) bool { return s == sub })
	if len(b.subs[key]) == 0 {
		delete(b.subs, key)
	}
}

// Dropped returns the number of deliveries lost to full subscriber buffers.
func (b *MemBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close shuts down the bus and all active subscriptions.
func (b *MemBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.close()
		}
	}
	clear(b.subs)
	return nil
}

// memSub is an in-memory subscription.
type memSub struct {
	ch     chan runtime.Event
	mu     sync.Mutex
	closed bool
	detach func()
}

// Events returns a channel of events for this subscription.
func (s *memSub) Events() <-chan runtime.Event {
	return s.ch
}

// Close unsubscribes and releases resources.
func (s *memSub) Close() error {
	if s.close() && s.detach != nil {
		s.detach()
	}
	return nil
}

// close closes the channel once and reports whether this call did it.
func (s *memSub) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.closed = true
	close(s.ch)
	return true
}

// send delivers an event without blocking. It reports false when the
// event was dropped because the buffer is full.
func (s *memSub) send(event runtime.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return true
	}
	select {
	case s.ch <- event:
		return true
	default:
		return false
	}
}

var _ EventBus = (*MemBus)(nil)
var _ Subscription = (*memSub)(nil)

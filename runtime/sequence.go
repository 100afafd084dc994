package runtime

import "sync/atomic"

// seqGen hands out the per-run event sequence numbers.
type seqGen struct {
	counter atomic.Uint64
}

// Next returns the next sequence number (1-indexed).
func (s *seqGen) Next() uint64 {
	return s.counter.Add(1)
}

// Package sequence issues the strictly monotonic sequence numbers the match
// journal stamps on records. The counter is seeded from replay, so numbering
// survives restarts without a separate durable counter.
package sequence

import "sync/atomic"

type Sequencer struct {
	last atomic.Uint64
}

// New creates a sequencer whose next issued value is start + 1. A fresh
// journal passes 0; a replayed one passes its highest recovered sequence.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(start)
	return s
}

// Next issues the next sequence number.
func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Current returns the last issued sequence number.
func (s *Sequencer) Current() uint64 {
	return s.last.Load()
}

// Observe advances the counter to a sequence number read back from disk.
// It reports false when seq does not advance the counter, which on an
// append-only log means a corrupt or reordered record.
func (s *Sequencer) Observe(seq uint64) bool {
	for {
		cur := s.last.Load()
		if seq <= cur {
			return false
		}
		if s.last.CompareAndSwap(cur, seq) {
			return true
		}
	}
}

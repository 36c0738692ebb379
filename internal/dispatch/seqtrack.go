package dispatch

import "sync"

// atomicSeqTracker maintains the last observed sequence number per event
// Kind and reports a gap count whenever the source skips numbers, so lost
// events surface as telemetry rather than silently vanishing (spec §4.1:
// "a sequence-gap counter per event-type; delta > 1 increments a drops
// metric equal to delta-1").
type atomicSeqTracker struct {
	mu   sync.Mutex
	last map[Kind]uint64
	seen map[Kind]bool
}

// observe records seq for kind and returns the number of dropped events
// implied by the gap since the previous call for that kind, or 0 if this
// is the first observation or the sequence advanced by exactly one.
func (t *atomicSeqTracker) observe(kind Kind, seq uint64) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		t.last = make(map[Kind]uint64)
		t.seen = make(map[Kind]bool)
	}

	if !t.seen[kind] {
		t.seen[kind] = true
		t.last[kind] = seq
		return 0
	}

	prev := t.last[kind]
	t.last[kind] = seq

	if seq <= prev {
		// out-of-order or duplicate delivery: not a gap.
		return 0
	}
	delta := seq - prev
	if delta <= 1 {
		return 0
	}
	return delta - 1
}

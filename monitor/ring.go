package monitor

import (
	"sync"
	"time"
)

// Record is one received heartbeat, kept for diagnostics. The trail is
// in-memory only; it is not needed for correctness.
type Record struct {
	SlaveID             int64     `json:"slave_id"`
	ReceivedAt          time.Time `json:"received_at"`
	RetryCountAtReceipt int       `json:"retry_count_at_receipt"`
}

// Ring is a fixed-size append-only buffer of heartbeat records.
type Ring struct {
	mu      sync.Mutex
	records []Record
	next    int
	full    bool
}

func NewRing(size int) *Ring {
	return &Ring{records: make([]Record, size)}
}

func (r *Ring) Append(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[r.next] = rec
	r.next = (r.next + 1) % len(r.records)
	if r.next == 0 {
		r.full = true
	}
}

// Snapshot returns the records oldest-first.
func (r *Ring) Snapshot() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		out := make([]Record, r.next)
		copy(out, r.records[:r.next])
		return out
	}
	out := make([]Record, 0, len(r.records))
	out = append(out, r.records[r.next:]...)
	out = append(out, r.records[:r.next]...)
	return out
}

func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.records)
	}
	return r.next
}

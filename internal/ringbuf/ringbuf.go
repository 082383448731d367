// Package ringbuf provides a fixed-size ring of sequenced payloads. The
// websocket gateway keeps one per channel so clients that detect a gap
// in sequence numbers can backfill the missed messages without a
// reconnect.
package ringbuf

import "sync"

// Entry is one buffered payload with its channel sequence number.
type Entry struct {
	Seq  int64
	Data []byte
}

// Ring is a circular buffer of recent entries. Writes overwrite the
// oldest entry once full. Safe for concurrent use.
type Ring struct {
	mu   sync.RWMutex
	buf  []Entry
	cap  int
	pos  int // next write position
	full bool
}

// New creates a ring with the given capacity. Capacities below 1 fall
// back to 512.
func New(capacity int) *Ring {
	if capacity < 1 {
		capacity = 512
	}
	return &Ring{
		buf: make([]Entry, capacity),
		cap: capacity,
	}
}

// Push appends a payload. The data is copied so the caller may reuse
// its slice.
func (r *Ring) Push(seq int64, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.pos] = Entry{Seq: seq, Data: cp}
	r.pos = (r.pos + 1) % r.cap
	if r.pos == 0 && !r.full {
		r.full = true
	}
}

// Range returns all entries with seq in [fromSeq, toSeq], oldest first.
// Entries that have been overwritten are silently absent; the caller
// compares the result against the requested range to detect that.
func (r *Ring) Range(fromSeq, toSeq int64) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entry
	n := r.length()
	for i := 0; i < n; i++ {
		e := r.buf[r.index(i)]
		if e.Seq >= fromSeq && e.Seq <= toSeq {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of entries currently buffered.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.length()
}

// OldestSeq returns the smallest buffered sequence number, or 0 when
// the ring is empty.
func (r *Ring) OldestSeq() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.length() == 0 {
		return 0
	}
	return r.buf[r.index(0)].Seq
}

func (r *Ring) length() int {
	if r.full {
		return r.cap
	}
	return r.pos
}

// index converts a logical index (0 = oldest) to a physical one.
func (r *Ring) index(logical int) int {
	if r.full {
		return (r.pos + logical) % r.cap
	}
	return logical
}

package gateway

import (
	"encoding/json"
	"iter"
	"sync"
	"time"
)

// Event is a dispatch. Seq and At are assigned when the event is appended
// to a DispatchLog.
type Event struct {
	Seq  uint64
	Type string
	Data json.RawMessage
	At   time.Time

	frame []byte // pre-encoded DISPATCH frame for fast replay
}

// DispatchLog is a thread-safe ring buffer of a session's recent dispatches.
//
// Sequence numbers are assigned by the log, start at 1 and are gap-free.
// When the buffer is full the oldest event is overwritten, so the log always
// holds the contiguous range [MinSeq, MaxSeq].
type DispatchLog struct {
	mu       sync.RWMutex
	entries  []Event
	head     int    // Next write position (circular)
	count    int    // Current number of entries
	capacity int    // Max entries
	last     uint64 // Highest assigned sequence
	now      func() time.Time
}

// NewDispatchLog creates a dispatch log with the given capacity.
func NewDispatchLog(capacity int) *DispatchLog {
	if capacity <= 0 {
		capacity = DefaultConfig().DispatchLogSize
	}
	return &DispatchLog{
		entries:  make([]Event, capacity),
		capacity: capacity,
		now:      time.Now,
	}
}

// Append assigns the next sequence number to ev, stores it and returns the
// sequence number.
func (l *DispatchLog) Append(ev Event) uint64 {
	stored, _ := l.append(ev, nil)
	return stored.Seq
}

// append stores ev after seal has seen it with its sequence number assigned.
// If seal fails nothing is stored and no sequence number is consumed.
func (l *DispatchLog) append(ev Event, seal func(*Event) error) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ev.Seq = l.last + 1
	ev.At = l.now()
	if seal != nil {
		if err := seal(&ev); err != nil {
			return Event{}, err
		}
	}

	l.entries[l.head] = ev
	l.head = (l.head + 1) % l.capacity
	if l.count < l.capacity {
		l.count++
	}
	l.last = ev.Seq
	return ev, nil
}

// MaxSeq returns the highest sequence number assigned, 0 if none.
func (l *DispatchLog) MaxSeq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.last
}

// MinSeq returns the oldest sequence number still held. For an empty log
// it is MaxSeq()+1.
func (l *DispatchLog) MinSeq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.minSeqLocked()
}

func (l *DispatchLog) minSeqLocked() uint64 {
	return l.last - uint64(l.count) + 1
}

// Len returns the number of events held.
func (l *DispatchLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

// Covers reports whether every event after afterSeq is still held. It is
// true for a caught-up client (afterSeq == MaxSeq) and false when events
// were evicted or afterSeq is ahead of the log.
func (l *DispatchLog) Covers(afterSeq uint64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if afterSeq > l.last {
		return false
	}
	if afterSeq == l.last {
		return true
	}
	return afterSeq+1 >= l.minSeqLocked()
}

// ReplayFrom yields the events with Seq > afterSeq in ascending order, up to
// the MaxSeq observed when iteration starts. Each range over the result
// starts again from afterSeq. Iteration stops early if an event is evicted
// while iterating; check Covers first.
func (l *DispatchLog) ReplayFrom(afterSeq uint64) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		l.mu.RLock()
		last := l.last
		l.mu.RUnlock()

		for seq := afterSeq + 1; seq <= last; seq++ {
			ev, ok := l.get(seq)
			if !ok || !yield(ev) {
				return
			}
		}
	}
}

func (l *DispatchLog) get(seq uint64) (Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	first := l.minSeqLocked()
	if l.count == 0 || seq < first || seq > l.last {
		return Event{}, false
	}
	oldest := (l.head - l.count + l.capacity) % l.capacity
	idx := (oldest + int(seq-first)) % l.capacity
	return l.entries[idx], true
}

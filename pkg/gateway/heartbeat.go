package gateway

import (
	"sync"
	"time"
)

// HeartbeatMonitor closes connections that stop sending heartbeats.
//
// Each armed session has one timer set to its deadline, the time of its last
// heartbeat plus the allowed silence. When the timer fires the deadline is
// re-checked against the session's current last heartbeat, and the timer is
// pushed forward if a heartbeat arrived in the meantime.
type HeartbeatMonitor struct {
	mu        sync.Mutex
	timers    map[*Session]*time.Timer
	deadline  time.Duration
	now       func() time.Time
	onTimeout func(*Session)
}

// NewHeartbeatMonitor returns a monitor that calls onTimeout for a session
// whose last heartbeat is more than deadline in the past.
func NewHeartbeatMonitor(deadline time.Duration, onTimeout func(*Session)) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		timers:    make(map[*Session]*time.Timer),
		deadline:  deadline,
		now:       time.Now,
		onTimeout: onTimeout,
	}
}

// Arm starts watching s. Arming an armed session is a no-op.
func (m *HeartbeatMonitor) Arm(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.timers[s]; ok {
		return
	}
	m.timers[s] = time.AfterFunc(m.remaining(s), func() { m.check(s) })
}

// Disarm stops watching s.
func (m *HeartbeatMonitor) Disarm(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.timers[s]; ok {
		t.Stop()
		delete(m.timers, s)
	}
}

// Armed returns the number of sessions being watched.
func (m *HeartbeatMonitor) Armed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Expired reports whether s has missed its heartbeat deadline at now.
func (m *HeartbeatMonitor) Expired(s *Session, now time.Time) bool {
	return now.Sub(s.LastHeartbeat()) > m.deadline
}

func (m *HeartbeatMonitor) check(s *Session) {
	m.mu.Lock()
	t, ok := m.timers[s]
	if !ok {
		m.mu.Unlock()
		return
	}
	if !m.Expired(s, m.now()) {
		t.Reset(m.remaining(s))
		m.mu.Unlock()
		return
	}
	delete(m.timers, s)
	m.mu.Unlock()

	m.onTimeout(s)
}

// remaining is the wait until s is strictly past its deadline.
func (m *HeartbeatMonitor) remaining(s *Session) time.Duration {
	d := s.LastHeartbeat().Add(m.deadline).Sub(m.now()) + time.Millisecond
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

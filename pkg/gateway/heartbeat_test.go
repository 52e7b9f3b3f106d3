package gateway

import (
	"testing"
	"time"

	"github.com/vango-dev/gateway/pkg/protocol"
)

func beatAt(ts time.Time) *Session {
	s := &Session{}
	s.beat(ts)
	return s
}

func TestHeartbeatMonitorExpired(t *testing.T) {
	m := NewHeartbeatMonitor(2*time.Second, func(*Session) {})
	start := time.Unix(1000, 0)
	s := beatAt(start)

	tests := []struct {
		after time.Duration
		want  bool
	}{
		{0, false},
		{time.Second, false},
		{2 * time.Second, false}, // exactly interval × grace is still alive
		{2*time.Second + time.Nanosecond, true},
	}
	for _, tt := range tests {
		if got := m.Expired(s, start.Add(tt.after)); got != tt.want {
			t.Errorf("Expired(+%v) = %v, want %v", tt.after, got, tt.want)
		}
	}
}

func TestHeartbeatMonitorFires(t *testing.T) {
	fired := make(chan *Session, 1)
	m := NewHeartbeatMonitor(20*time.Millisecond, func(s *Session) { fired <- s })
	s := beatAt(time.Now())

	m.Arm(s)
	m.Arm(s)
	if m.Armed() != 1 {
		t.Fatalf("Armed = %d, want 1", m.Armed())
	}

	select {
	case got := <-fired:
		if got != s {
			t.Error("onTimeout called with the wrong session")
		}
	case <-time.After(waitTimeout):
		t.Fatal("monitor did not fire")
	}
	if m.Armed() != 0 {
		t.Errorf("Armed after timeout = %d, want 0", m.Armed())
	}
}

func TestHeartbeatMonitorReschedules(t *testing.T) {
	fired := make(chan struct{}, 1)
	m := NewHeartbeatMonitor(40*time.Millisecond, func(*Session) { fired <- struct{}{} })
	s := beatAt(time.Now())
	m.Arm(s)
	defer m.Disarm(s)

	stop := time.After(200 * time.Millisecond)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			s.beat(time.Now())
		case <-fired:
			t.Fatal("monitor fired for a live session")
		case <-stop:
			return
		}
	}
}

func TestHeartbeatMonitorDisarm(t *testing.T) {
	fired := make(chan struct{}, 1)
	m := NewHeartbeatMonitor(10*time.Millisecond, func(*Session) { fired <- struct{}{} })
	s := beatAt(time.Now())

	m.Arm(s)
	m.Disarm(s)
	if m.Armed() != 0 {
		t.Fatalf("Armed = %d, want 0", m.Armed())
	}
	select {
	case <-fired:
		t.Fatal("disarmed session timed out")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHeartbeatTimeoutClosesConnection(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatInterval = 20 * time.Millisecond
	g := newTestGateway(t, cfg)

	c := connect(t, g)
	sessionID := c.identify(t, "alice-token")

	if code := c.waitClose(t); code != protocol.CloseSessionTimedOut {
		t.Errorf("close code = %v, want SessionTimedOut", code)
	}
	if frames := c.pending(); len(frames) != 0 {
		t.Errorf("timeout sent %d frames, want none", len(frames))
	}
	if err := c.result(t); err == nil {
		t.Error("OnConnect returned nil after heartbeat timeout")
	}
	// A timed-out session stays resumable.
	waitDetached(t, g, sessionID)
}

func TestHeartbeatsKeepConnectionAlive(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatInterval = 30 * time.Millisecond
	g := newTestGateway(t, cfg)

	c := connect(t, g)
	c.identify(t, "alice-token")

	// Five intervals of regular heartbeats.
	for range 10 {
		time.Sleep(15 * time.Millisecond)
		c.send(t, &protocol.Heartbeat{})
		if p := c.next(t); p.Kind() != protocol.KindHeartbeatAck {
			t.Fatalf("frame = %v, want HEARTBEAT_ACK", p.Kind())
		}
	}
	if c.isClosed() {
		t.Fatal("connection closed despite heartbeats")
	}
	if g.Monitor().Armed() != 1 {
		t.Errorf("Armed = %d, want 1", g.Monitor().Armed())
	}
}

package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/vango-dev/gateway/pkg/protocol"
)

// Session is the protocol state of one client connection.
//
// The resumable part of a session (its ID, principal, subscriptions and
// dispatch log) lives in the Registry and outlives the connection. A RESUME
// attaches a new Session to it.
type Session struct {
	// Identity
	id        string // Connection ID, unique per transport
	createdAt time.Time

	// Connection
	transport Transport
	gateway   *Gateway
	limiter   *rate.Limiter
	interval  time.Duration

	state    atomic.Int32
	lastBeat atomic.Int64  // Unix nanoseconds of the last HEARTBEAT
	lastSeq  atomic.Uint64 // Highest dispatch sequence queued to this connection

	mu     sync.Mutex // Protects entry and logger
	entry  *entry
	logger *slog.Logger

	// Outbound
	send       chan []byte
	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once
	closing    closeRequest // Set once, before done is closed
}

// closeRequest describes how the write loop ends the connection.
type closeRequest struct {
	cause  error
	code   protocol.CloseCode
	final  []byte // Written after the queue, before the close frame
	flush  bool   // Write queued frames first
	reason string
}

func newSession(g *Gateway, t Transport) *Session {
	cfg := g.config
	s := &Session{
		id:         uuid.NewString(),
		createdAt:  g.now(),
		transport:  t,
		gateway:    g,
		interval:   cfg.HeartbeatInterval,
		send:       make(chan []byte, cfg.SendQueueSize),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	if cfg.InboundRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.InboundRate), cfg.InboundBurst)
	}
	s.logger = g.logger.With("conn_id", s.id, "remote_addr", t.RemoteAddr())
	s.state.Store(int32(StateAwaitingIdentify))
	s.lastBeat.Store(s.createdAt.UnixNano())
	return s
}

// ID returns the connection ID.
func (s *Session) ID() string {
	return s.id
}

// SessionID returns the ID of the session this connection is attached to,
// or "" before IDENTIFY or RESUME succeeded.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry == nil {
		return ""
	}
	return s.entry.id
}

// State returns the current protocol state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	// CLOSED is terminal.
	for {
		cur := s.state.Load()
		if State(cur) == StateClosed {
			return
		}
		if s.state.CompareAndSwap(cur, int32(st)) {
			return
		}
	}
}

// HeartbeatInterval returns the interval announced in HELLO.
func (s *Session) HeartbeatInterval() time.Duration {
	return s.interval
}

// LastHeartbeat returns when the last HEARTBEAT arrived. Before the first
// heartbeat it is the connection time.
func (s *Session) LastHeartbeat() time.Time {
	return time.Unix(0, s.lastBeat.Load())
}

func (s *Session) beat(now time.Time) {
	s.lastBeat.Store(now.UnixNano())
}

// LastSeq returns the highest dispatch sequence number queued to this
// connection.
func (s *Session) LastSeq() uint64 {
	return s.lastSeq.Load()
}

// Done is closed when the connection starts closing.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Cause returns why the connection closed, or nil while it is open.
func (s *Session) Cause() error {
	select {
	case <-s.done:
		return s.closing.cause
	default:
		return nil
	}
}

// CloseCode returns the close code the connection ended with.
func (s *Session) CloseCode() protocol.CloseCode {
	select {
	case <-s.done:
		return s.closing.code
	default:
		return 0
	}
}

func (s *Session) log() *slog.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logger
}

func (s *Session) attach(e *entry) {
	s.mu.Lock()
	s.entry = e
	s.logger = s.logger.With("session_id", e.id)
	s.mu.Unlock()
}

func (s *Session) attached() *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry
}

// enqueue queues a frame for the write loop. It returns false only when
// the queue is full. Frames queued after close started are dropped.
func (s *Session) enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return true
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// deliver queues a logged dispatch. On overflow the connection is closed
// and the client is expected to resume from the log.
func (s *Session) deliver(ev Event) {
	if !s.enqueue(ev.frame) {
		s.fail(ErrQueueOverflow)
		return
	}
	s.lastSeq.Store(ev.Seq)
}

// fail closes the connection with the close code mapped from err.
// Closing an already closed session is a no-op.
func (s *Session) fail(err error) {
	action := actionFor(err)
	req := closeRequest{
		cause:  err,
		code:   action.code,
		reason: action.code.String(),
		flush:  true,
	}

	codec := s.gateway.codec
	switch {
	case action.invalid:
		req.final, _ = codec.Encode(&protocol.InvalidSession{Resumable: false})
	case action.code == protocol.CloseReconnect:
		req.final, _ = codec.Encode(&protocol.Reconnect{})
	}
	if errors.Is(err, ErrQueueOverflow) || errors.Is(err, ErrHeartbeatTimeout) || errors.Is(err, ErrConnectionClosed) {
		req.flush = false
	}
	s.close(req)
}

func (s *Session) close(req closeRequest) {
	s.closeOnce.Do(func() {
		s.closing = req
		s.state.Store(int32(StateClosed))
		s.gateway.monitor.Disarm(s)
		close(s.done)

		logger := s.log()
		switch req.code {
		case protocol.CloseNormal:
			logger.Debug("connection closed")
		case protocol.CloseUnknownError:
			logger.Error("connection closed", "code", int(req.code), "error", req.cause)
		default:
			logger.Info("connection closed", "code", int(req.code), "reason", req.reason, "error", req.cause)
		}
	})
}

// writeLoop is the only writer to the transport. It runs until the session
// is closed, then writes the final frames and closes the transport.
func (s *Session) writeLoop() {
	defer close(s.writerDone)
	ctx := context.Background()

	for {
		select {
		case frame := <-s.send:
			if err := s.transport.WriteMessage(ctx, frame); err != nil {
				s.fail(errors.Join(ErrConnectionClosed, err))
			}

		case <-s.done:
			req := s.closing
			ok := true
			if req.flush {
				ok = s.drain(ctx)
			}
			if ok && req.final != nil {
				_ = s.transport.WriteMessage(ctx, req.final)
			}
			if err := s.transport.Close(req.code, req.reason); err != nil {
				s.log().Debug("transport close", "error", err)
			}
			return
		}
	}
}

// drain writes whatever is still queued. It reports false if a write failed.
func (s *Session) drain(ctx context.Context) bool {
	for {
		select {
		case frame := <-s.send:
			if err := s.transport.WriteMessage(ctx, frame); err != nil {
				return false
			}
		default:
			return true
		}
	}
}

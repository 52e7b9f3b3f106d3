package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/gateway/pkg/auth"
	"github.com/vango-dev/gateway/pkg/protocol"
)

// Default tracer name for gateway spans.
const defaultTracerName = "github.com/vango-dev/gateway"

// ErrInvalidEvent is returned for application events the gateway refuses
// to dispatch.
var ErrInvalidEvent = errors.New("gateway: invalid event")

// Gateway runs the session protocol for every connection handed to OnConnect.
type Gateway struct {
	config   *Config
	codec    *protocol.Codec
	registry *Registry
	monitor  *HeartbeatMonitor
	verifier auth.Verifier
	presence Presence
	observer Observer
	tracer   trace.Tracer
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	conns    map[*Session]struct{}
	wg       sync.WaitGroup
	shutdown atomic.Bool
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithPresence enables presence claims. Sessions whose claim has lapsed
// cannot be resumed.
func WithPresence(p Presence) Option {
	return func(g *Gateway) {
		g.presence = p
	}
}

// WithObserver sets the lifecycle observer.
func WithObserver(o Observer) Option {
	return func(g *Gateway) {
		if o != nil {
			g.observer = o
		}
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider.
// Default: the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(g *Gateway) {
		if tp != nil {
			g.tracer = tp.Tracer(defaultTracerName)
		}
	}
}

// WithCodec sets the codec. Default: protocol.DefaultCodec.
func WithCodec(c *protocol.Codec) Option {
	return func(g *Gateway) {
		if c != nil {
			g.codec = c
		}
	}
}

// New creates a gateway. A nil cfg uses DefaultConfig().
func New(cfg *Config, verifier auth.Verifier, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg = cfg.Clone()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if verifier == nil {
		return nil, errors.New("gateway: verifier is required")
	}

	g := &Gateway{
		config:   cfg,
		codec:    protocol.DefaultCodec,
		verifier: verifier,
		observer: nopObserver{},
		tracer:   otel.Tracer(defaultTracerName),
		logger:   slog.Default(),
		now:      time.Now,
		conns:    make(map[*Session]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "gateway")

	g.registry = NewRegistry(cfg, g.logger)
	g.registry.codec = g.codec
	g.registry.onPurge = g.onPurge
	g.monitor = NewHeartbeatMonitor(cfg.heartbeatDeadline(), func(s *Session) {
		s.fail(ErrHeartbeatTimeout)
	})
	return g, nil
}

// Config returns a copy of the gateway's configuration.
func (g *Gateway) Config() *Config {
	return g.config.Clone()
}

// Registry returns the session registry.
func (g *Gateway) Registry() *Registry {
	return g.registry
}

// Monitor returns the heartbeat monitor.
func (g *Gateway) Monitor() *HeartbeatMonitor {
	return g.monitor
}

// OnConnect runs the protocol on t until the connection closes. HELLO is
// the first frame written. It returns the reason the connection closed, or
// nil if the client went away.
func (g *Gateway) OnConnect(ctx context.Context, t Transport) (err error) {
	s := newSession(g, t)
	if !g.track(s) {
		frame, _ := g.codec.Encode(&protocol.Reconnect{})
		_ = t.WriteMessage(ctx, frame)
		_ = t.Close(protocol.CloseReconnect, protocol.CloseReconnect.String())
		return ErrShuttingDown
	}
	defer g.untrack(s)
	g.observer.ConnectionOpened()

	go s.writeLoop()

	hello, err := g.codec.Encode(&protocol.Hello{HeartbeatInterval: g.config.HeartbeatInterval.Milliseconds()})
	if err != nil {
		s.fail(err)
	} else {
		s.enqueue(hello)
	}
	g.monitor.Arm(s)

	identifyTimer := time.AfterFunc(g.config.IdentifyTimeout, func() {
		if s.State() == StateAwaitingIdentify {
			s.fail(ErrNotAuthenticated)
		}
	})
	stop := context.AfterFunc(ctx, func() {
		s.fail(ErrShuttingDown)
	})

	defer func() {
		identifyTimer.Stop()
		stop()
		if r := recover(); r != nil {
			s.log().Error("connection panic", "panic", r, "stack", string(debug.Stack()))
			s.fail(fmt.Errorf("gateway: panic: %v", r))
		}
		s.fail(ErrConnectionClosed)
		<-s.writerDone
		g.detach(s)
		g.observer.ConnectionClosed(s.CloseCode())

		err = s.Cause()
		if errors.Is(err, ErrConnectionClosed) {
			err = nil
		}
	}()

	s.log().Debug("connection opened")
	g.readLoop(ctx, s)
	return nil
}

// readLoop processes inbound frames in order until the connection closes.
func (g *Gateway) readLoop(ctx context.Context, s *Session) {
	for {
		raw, err := s.transport.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, protocol.ErrMalformedMessage) {
				s.fail(err)
			} else {
				s.fail(errors.Join(ErrConnectionClosed, err))
			}
			return
		}
		if s.State() == StateClosed {
			return
		}
		if s.limiter != nil && !s.limiter.Allow() {
			s.fail(ErrRateLimited)
			return
		}
		if err := g.handleFrame(ctx, s, raw); err != nil {
			s.fail(err)
			return
		}
	}
}

func (g *Gateway) track(s *Session) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.shutdown.Load() {
		return false
	}
	g.conns[s] = struct{}{}
	g.wg.Add(1)
	return true
}

func (g *Gateway) untrack(s *Session) {
	g.mu.Lock()
	delete(g.conns, s)
	g.mu.Unlock()
	g.wg.Done()
}

// detach leaves the session resumable after its connection closed.
func (g *Gateway) detach(s *Session) {
	e := s.attached()
	if e == nil {
		return
	}
	if e.detach(s, g.now()) {
		s.log().Debug("session detached", "max_seq", e.log.MaxSeq())
	}
}

func (g *Gateway) onPurge(info SessionInfo) {
	g.observer.SessionPurged()
	if g.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.config.VerifyTimeout)
	defer cancel()
	if err := g.presence.Release(ctx, info.ID); err != nil {
		g.logger.Warn("presence release failed", "session_id", info.ID, "error", err)
	}
}

// OnApplicationEvent dispatches ev to every session target addresses. Each
// session assigns the event its next sequence number; connected sessions
// receive it immediately and detached ones replay it on RESUME. It returns
// the number of sessions the event was recorded for.
func (g *Gateway) OnApplicationEvent(ctx context.Context, target Target, ev Event) (int, error) {
	if err := ValidateEvent(target, ev); err != nil {
		return 0, err
	}

	_, span := g.tracer.Start(ctx, "gateway.dispatch", trace.WithAttributes(
		attribute.String("gateway.event_type", ev.Type),
		attribute.String("gateway.target", target.String()),
	))
	defer span.End()

	entries := g.registry.resolve(target)
	if target.Kind == TargetSession && len(entries) == 0 {
		err := NewSessionError(target.ID, "dispatch", ErrSessionNotFound)
		span.RecordError(err)
		span.SetStatus(codes.Error, "session not found")
		return 0, err
	}

	n := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "cancelled")
			return n, err
		}
		if _, err := e.dispatch(g.codec, ev); err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				continue
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "dispatch failed")
			return n, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		n++
	}

	span.SetAttributes(attribute.Int("gateway.sessions", n))
	span.SetStatus(codes.Ok, "")
	g.observer.EventDispatched(ev.Type, n)
	return n, nil
}

// ValidateEvent reports whether ev may be dispatched to target. READY and
// RESUMED are reserved for the gateway.
func ValidateEvent(target Target, ev Event) error {
	if err := target.Validate(); err != nil {
		return err
	}
	if ev.Type == "" || ev.Type == protocol.EventReady || ev.Type == protocol.EventResumed {
		return fmt.Errorf("%w: type %q", ErrInvalidEvent, ev.Type)
	}
	if len(ev.Data) > 0 && !json.Valid(ev.Data) {
		return fmt.Errorf("%w: data is not valid JSON", ErrInvalidEvent)
	}
	return nil
}

// Publish implements EventSink by dispatching in process.
func (g *Gateway) Publish(ctx context.Context, target Target, ev Event) error {
	_, err := g.OnApplicationEvent(ctx, target, ev)
	return err
}

// Subscribe adds a session to a broadcast group.
func (g *Gateway) Subscribe(sessionID, group string) error {
	return g.registry.Subscribe(sessionID, group)
}

// Unsubscribe removes a session from a broadcast group.
func (g *Gateway) Unsubscribe(sessionID, group string) error {
	return g.registry.Unsubscribe(sessionID, group)
}

// Stats contains gateway statistics.
type Stats struct {
	Connections int `json:"connections"`
	RegistryStats
}

// Stats returns current statistics.
func (g *Gateway) Stats() Stats {
	g.mu.Lock()
	conns := len(g.conns)
	g.mu.Unlock()
	return Stats{Connections: conns, RegistryStats: g.registry.Stats()}
}

// Shutdown sends RECONNECT to every connection, closes them with 4012 and
// waits for their goroutines to exit or ctx to end. Sessions are not purged:
// their logs go away with the process.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.shutdown.Store(true)
	conns := make([]*Session, 0, len(g.conns))
	for s := range g.conns {
		conns = append(conns, s)
	}
	g.mu.Unlock()

	g.logger.Info("shutting down", "connections", len(conns))
	for _, s := range conns {
		s.fail(ErrShuttingDown)
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	g.registry.Close()
	return err
}

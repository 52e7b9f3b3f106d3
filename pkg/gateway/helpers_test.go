package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vango-dev/gateway/pkg/auth"
	"github.com/vango-dev/gateway/pkg/protocol"
)

const waitTimeout = 2 * time.Second

// memTransport is an in-memory Transport. The test plays the client.
type memTransport struct {
	in       chan []byte // client → server
	out      chan []byte // server → client
	closed   chan struct{}
	peerGone chan struct{}

	closeOnce sync.Once
	hangOnce  sync.Once
	code      atomic.Int32
}

func newMemTransport(outBuffer int) *memTransport {
	return &memTransport{
		in:       make(chan []byte, 64),
		out:      make(chan []byte, outBuffer),
		closed:   make(chan struct{}),
		peerGone: make(chan struct{}),
	}
}

func (m *memTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case data := <-m.in:
		return data, nil
	case <-m.closed:
		return nil, ErrConnectionClosed
	case <-m.peerGone:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *memTransport) WriteMessage(ctx context.Context, data []byte) error {
	select {
	case m.out <- data:
		return nil
	case <-m.closed:
		return ErrConnectionClosed
	case <-m.peerGone:
		return io.ErrClosedPipe
	}
}

func (m *memTransport) Close(code protocol.CloseCode, reason string) error {
	m.closeOnce.Do(func() {
		m.code.Store(int32(code))
		close(m.closed)
	})
	return nil
}

func (m *memTransport) RemoteAddr() string { return "mem" }

// hangup simulates the client dropping the connection.
func (m *memTransport) hangup() {
	m.hangOnce.Do(func() { close(m.peerGone) })
}

func (m *memTransport) send(t *testing.T, p protocol.Payload) {
	t.Helper()
	raw, err := protocol.DefaultCodec.Encode(p)
	if err != nil {
		t.Fatalf("Encode(%v) error: %v", p.Kind(), err)
	}
	m.sendRaw(raw)
}

func (m *memTransport) sendRaw(raw []byte) {
	select {
	case m.in <- raw:
	case <-m.closed:
	}
}

// next returns the next frame the server wrote.
func (m *memTransport) next(t *testing.T) protocol.Payload {
	t.Helper()
	select {
	case raw := <-m.out:
		p, err := protocol.DefaultCodec.DecodeOutbound(raw)
		if err != nil {
			t.Fatalf("DecodeOutbound(%s) error: %v", raw, err)
		}
		return p
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func (m *memTransport) nextDispatch(t *testing.T) *protocol.Dispatch {
	t.Helper()
	p := m.next(t)
	d, ok := p.(*protocol.Dispatch)
	if !ok {
		t.Fatalf("frame = %v, want DISPATCH", p.Kind())
	}
	return d
}

// waitClose waits for the server to close the transport and returns the
// close code. Frames written before the close stay readable.
func (m *memTransport) waitClose(t *testing.T) protocol.CloseCode {
	t.Helper()
	select {
	case <-m.closed:
		return protocol.CloseCode(m.code.Load())
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for close")
		return 0
	}
}

func (m *memTransport) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

// pending returns the frames written but not yet read.
func (m *memTransport) pending() []protocol.Payload {
	var out []protocol.Payload
	for {
		select {
		case raw := <-m.out:
			p, err := protocol.DefaultCodec.DecodeOutbound(raw)
			if err == nil {
				out = append(out, p)
			}
		default:
			return out
		}
	}
}

func testPrincipals() map[string]auth.Principal {
	return map[string]auth.Principal{
		"alice-token": {ID: "alice", Name: "Alice", Groups: []string{"lobby"}},
		"bob-token":   {ID: "bob", Name: "Bob"},
	}
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.HeartbeatInterval = time.Second
	cfg.IdentifyTimeout = 5 * time.Second
	cfg.DispatchLogSize = 64
	cfg.SendQueueSize = 128
	cfg.CleanupInterval = time.Hour
	cfg.InboundRate = 0
	cfg.Shards = 4
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGateway(t *testing.T, cfg *Config, opts ...Option) *Gateway {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	g, err := New(cfg, auth.NewStaticVerifier(testPrincipals()), opts...)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = g.Shutdown(ctx)
	})
	return g
}

type conn struct {
	*memTransport
	errc chan error
}

func connect(t *testing.T, g *Gateway) *conn {
	t.Helper()
	return connectBuffered(t, g, 1024)
}

func connectBuffered(t *testing.T, g *Gateway, outBuffer int) *conn {
	t.Helper()
	c := &conn{memTransport: newMemTransport(outBuffer), errc: make(chan error, 1)}
	go func() {
		c.errc <- g.OnConnect(context.Background(), c.memTransport)
	}()
	return c
}

// result waits for OnConnect to return.
func (c *conn) result(t *testing.T) error {
	t.Helper()
	select {
	case err := <-c.errc:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for OnConnect to return")
		return nil
	}
}

// expectHello reads HELLO, which must be the first frame.
func (c *conn) expectHello(t *testing.T) *protocol.Hello {
	t.Helper()
	p := c.next(t)
	hello, ok := p.(*protocol.Hello)
	if !ok {
		t.Fatalf("first frame = %v, want HELLO", p.Kind())
	}
	return hello
}

// identify performs HELLO → IDENTIFY → READY and returns the session ID.
func (c *conn) identify(t *testing.T, token string) string {
	t.Helper()
	c.expectHello(t)
	c.send(t, &protocol.Identify{Token: token})

	d := c.nextDispatch(t)
	if d.Type != protocol.EventReady || d.Seq != 1 {
		t.Fatalf("dispatch = %s seq %d, want READY seq 1", d.Type, d.Seq)
	}
	var ready protocol.Ready
	if err := json.Unmarshal(d.Data, &ready); err != nil {
		t.Fatalf("READY data: %v", err)
	}
	if ready.SessionID == "" {
		t.Fatal("READY without session id")
	}
	return ready.SessionID
}

// expectInvalidSession reads INVALID_SESSION{resumable:false} and the close code.
func (c *conn) expectInvalidSession(t *testing.T, want protocol.CloseCode) {
	t.Helper()
	for {
		p := c.next(t)
		if p.Kind() == protocol.KindHello {
			continue
		}
		inv, ok := p.(*protocol.InvalidSession)
		if !ok {
			t.Fatalf("frame = %v, want INVALID_SESSION", p.Kind())
		}
		if inv.Resumable {
			t.Error("INVALID_SESSION resumable = true, want false")
		}
		break
	}
	if got := c.waitClose(t); got != want {
		t.Errorf("close code = %d (%v), want %d (%v)", got, got, want, want)
	}
}

func event(typ string, v any) Event {
	data, _ := json.Marshal(v)
	return Event{Type: typ, Data: data}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitDetached(t *testing.T, g *Gateway, sessionID string) {
	t.Helper()
	waitFor(t, "session to detach", func() bool {
		info, ok := g.Registry().Lookup(sessionID)
		return ok && !info.Connected
	})
}

package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-dev/gateway/pkg/protocol"
)

// Transport is a bidirectional message stream to one client.
//
// ReadMessage is only called from the connection's read loop and
// WriteMessage only from its write loop. Close may be called once from the
// write loop and must unblock a pending ReadMessage.
type Transport interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(ctx context.Context, data []byte) error
	Close(code protocol.CloseCode, reason string) error
	RemoteAddr() string
}

// WebSocketTransport adapts a gorilla/websocket connection to Transport.
type WebSocketTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	closeOnce    sync.Once
}

// NewWebSocketTransport wraps conn. Inbound messages larger than
// maxMessageSize fail the read.
func NewWebSocketTransport(conn *websocket.Conn, maxMessageSize int64, writeTimeout time.Duration) *WebSocketTransport {
	if maxMessageSize > 0 {
		conn.SetReadLimit(maxMessageSize)
	}
	return &WebSocketTransport{conn: conn, writeTimeout: writeTimeout}
}

// ReadMessage returns the next text message. Binary messages are rejected
// as malformed.
func (t *WebSocketTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		t.conn.SetReadDeadline(deadline)
	}
	mt, data, err := t.conn.ReadMessage()
	if err != nil {
		if errors.Is(err, websocket.ErrReadLimit) {
			return nil, errors.Join(protocol.ErrMalformedMessage, err)
		}
		return nil, errors.Join(ErrConnectionClosed, err)
	}
	if mt != websocket.TextMessage {
		return nil, protocol.ErrMalformedMessage
	}
	return data, nil
}

// WriteMessage writes data as a single text message.
func (t *WebSocketTransport) WriteMessage(ctx context.Context, data []byte) error {
	t.conn.SetWriteDeadline(t.deadline(ctx))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame with code and reason and closes the connection.
func (t *WebSocketTransport) Close(code protocol.CloseCode, reason string) error {
	var err error
	t.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(int(code), reason)
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, t.deadline(context.Background()))
		err = t.conn.Close()
	})
	return err
}

// RemoteAddr returns the peer address.
func (t *WebSocketTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

func (t *WebSocketTransport) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(t.writeTimeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		return cd
	}
	return d
}

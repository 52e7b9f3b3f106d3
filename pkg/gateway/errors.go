package gateway

import (
	"errors"
	"fmt"

	"github.com/vango-dev/gateway/pkg/auth"
	"github.com/vango-dev/gateway/pkg/protocol"
)

// Sentinel errors for session and gateway conditions.
var (
	// ErrSessionNotFound is returned when a session ID does not exist or
	// its resume window has passed.
	ErrSessionNotFound = errors.New("gateway: session not found")

	// ErrSequenceOutOfRange is returned when a RESUME asks for dispatches
	// that were never sent or have been evicted from the log.
	ErrSequenceOutOfRange = errors.New("gateway: sequence out of range")

	// ErrHeartbeatTimeout is the close cause of a connection that stopped
	// sending heartbeats.
	ErrHeartbeatTimeout = errors.New("gateway: heartbeat timeout")

	// ErrProtocolViolation is returned for an operation not allowed in the
	// session's current state.
	ErrProtocolViolation = errors.New("gateway: protocol violation")

	// ErrNotAuthenticated is the close cause of a connection that neither
	// identified nor resumed in time.
	ErrNotAuthenticated = errors.New("gateway: not authenticated")

	// ErrRateLimited is the close cause of a connection sending too fast.
	ErrRateLimited = errors.New("gateway: rate limited")

	// ErrQueueOverflow is the close cause of a connection whose send queue
	// filled up.
	ErrQueueOverflow = errors.New("gateway: send queue overflow")

	// ErrSessionReplaced is the close cause of a connection superseded by a
	// RESUME of the same session on another connection.
	ErrSessionReplaced = errors.New("gateway: session replaced")

	// ErrShuttingDown is the close cause of connections closed by Shutdown.
	ErrShuttingDown = errors.New("gateway: shutting down")

	// ErrConnectionClosed is returned when the peer went away.
	ErrConnectionClosed = errors.New("gateway: connection closed")
)

// SessionError wraps an error with session context for debugging.
type SessionError struct {
	SessionID string
	Op        string // Operation that failed
	Err       error  // Underlying error
}

// Error returns the error message with session context.
func (e *SessionError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("gateway: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("gateway: session %s: %s: %v", e.SessionID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *SessionError) Unwrap() error {
	return e.Err
}

// NewSessionError creates a new SessionError.
func NewSessionError(sessionID, op string, err error) *SessionError {
	return &SessionError{
		SessionID: sessionID,
		Op:        op,
		Err:       err,
	}
}

// closeAction describes how a terminating error is reported to the client.
type closeAction struct {
	code    protocol.CloseCode
	invalid bool // send INVALID_SESSION{resumable:false} before closing
}

// actionFor maps a terminating error to its close code.
func actionFor(err error) closeAction {
	switch {
	case errors.Is(err, protocol.ErrMalformedMessage), errors.Is(err, protocol.ErrPayloadMismatch):
		return closeAction{code: protocol.CloseDecodeError}
	case errors.Is(err, protocol.ErrUnknownOperation):
		return closeAction{code: protocol.CloseUnknownOpcode}
	case errors.Is(err, auth.ErrAuthentication):
		return closeAction{code: protocol.CloseAuthenticationFailed, invalid: true}
	case errors.Is(err, ErrSessionNotFound):
		return closeAction{code: protocol.CloseInvalidSession, invalid: true}
	case errors.Is(err, ErrSequenceOutOfRange):
		return closeAction{code: protocol.CloseInvalidSeq, invalid: true}
	case errors.Is(err, ErrProtocolViolation):
		return closeAction{code: protocol.CloseAlreadyAuthenticated, invalid: true}
	case errors.Is(err, ErrHeartbeatTimeout):
		return closeAction{code: protocol.CloseSessionTimedOut}
	case errors.Is(err, ErrNotAuthenticated):
		return closeAction{code: protocol.CloseNotAuthenticated}
	case errors.Is(err, ErrRateLimited):
		return closeAction{code: protocol.CloseRateLimited}
	case errors.Is(err, ErrQueueOverflow), errors.Is(err, ErrShuttingDown):
		return closeAction{code: protocol.CloseReconnect}
	case errors.Is(err, ErrSessionReplaced):
		return closeAction{code: protocol.CloseSessionReplaced}
	case errors.Is(err, ErrConnectionClosed):
		return closeAction{code: protocol.CloseNormal}
	default:
		return closeAction{code: protocol.CloseUnknownError}
	}
}

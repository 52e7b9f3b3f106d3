package protocol

import (
	"errors"
	"fmt"
)

// Decode errors.
var (
	// ErrMalformedMessage is returned when a frame is not a JSON envelope
	// or its op is missing or non-numeric.
	ErrMalformedMessage = errors.New("protocol: malformed message")

	// ErrPayloadMismatch is returned when an envelope's data does not
	// conform to the payload shape of its kind.
	ErrPayloadMismatch = errors.New("protocol: payload mismatch")

	// ErrUnknownOperation is returned when an op is not registered for
	// the direction it was received in.
	ErrUnknownOperation = errors.New("protocol: unknown operation")
)

// PayloadError describes why the data of an envelope was rejected.
// It matches ErrPayloadMismatch with errors.Is.
type PayloadError struct {
	Kind   Kind
	Field  string
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *PayloadError) Error() string {
	msg := fmt.Sprintf("protocol: payload mismatch for %v", e.Kind)
	if e.Field != "" {
		msg += ": field " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns ErrPayloadMismatch and the underlying cause.
func (e *PayloadError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrPayloadMismatch}
	}
	return []error{ErrPayloadMismatch, e.Err}
}

func mismatch(kind Kind, field, reason string) error {
	return &PayloadError{Kind: kind, Field: field, Reason: reason}
}

// CloseCode is a WebSocket close code sent when the gateway ends a connection.
type CloseCode int

const (
	CloseNormal               CloseCode = 1000 // Normal closure
	CloseUnknownError         CloseCode = 4000 // Unexpected server error
	CloseUnknownOpcode        CloseCode = 4001 // Op not registered
	CloseDecodeError          CloseCode = 4002 // Malformed frame or payload
	CloseNotAuthenticated     CloseCode = 4003 // No IDENTIFY or RESUME in time
	CloseAuthenticationFailed CloseCode = 4004 // Credential rejected
	CloseAlreadyAuthenticated CloseCode = 4005 // Second IDENTIFY or RESUME
	CloseInvalidSeq           CloseCode = 4007 // Resume seq outside the log
	CloseRateLimited          CloseCode = 4008 // Inbound frames too fast
	CloseSessionTimedOut      CloseCode = 4009 // Heartbeat deadline missed
	CloseInvalidSession       CloseCode = 4010 // Unknown session on RESUME
	CloseSessionReplaced      CloseCode = 4011 // Superseded by a newer RESUME
	CloseReconnect            CloseCode = 4012 // Client should reconnect and resume
)

// String returns the string representation of the close code.
func (c CloseCode) String() string {
	switch c {
	case CloseNormal:
		return "Normal"
	case CloseUnknownError:
		return "UnknownError"
	case CloseUnknownOpcode:
		return "UnknownOpcode"
	case CloseDecodeError:
		return "DecodeError"
	case CloseNotAuthenticated:
		return "NotAuthenticated"
	case CloseAuthenticationFailed:
		return "AuthenticationFailed"
	case CloseAlreadyAuthenticated:
		return "AlreadyAuthenticated"
	case CloseInvalidSeq:
		return "InvalidSeq"
	case CloseRateLimited:
		return "RateLimited"
	case CloseSessionTimedOut:
		return "SessionTimedOut"
	case CloseInvalidSession:
		return "InvalidSession"
	case CloseSessionReplaced:
		return "SessionReplaced"
	case CloseReconnect:
		return "Reconnect"
	default:
		return fmt.Sprintf("CloseCode(%d)", int(c))
	}
}

// Resumable reports whether a client that received c may try RESUME.
func (c CloseCode) Resumable() bool {
	switch c {
	case CloseUnknownError, CloseRateLimited, CloseSessionTimedOut, CloseReconnect:
		return true
	default:
		return false
	}
}

package protocol

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Dispatch event names emitted by the gateway itself.
const (
	EventReady   = "READY"
	EventResumed = "RESUMED"
)

// Payload is implemented by exactly one struct per Kind.
type Payload interface {
	Kind() Kind
}

// Hello is the first frame the server sends on every connection.
type Hello struct {
	// HeartbeatInterval is the interval in milliseconds at which the client
	// must send HEARTBEAT.
	HeartbeatInterval int64 `json:"heartbeatInterval"`
}

// Identify authenticates a new session.
type Identify struct {
	Token      string            `json:"token"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Resume reattaches to a previous session and replays what was missed.
type Resume struct {
	SessionID string `json:"sessionId"`
	LastSeq   uint64 `json:"lastSeq"`

	// Token is optional. When set it must resolve to the session's principal.
	Token string `json:"token,omitempty"`
}

// Heartbeat is the client's liveness ping. Its data is either null or the
// last sequence number the client has received.
type Heartbeat struct {
	LastSeq *uint64
}

// MarshalJSON implements json.Marshaler.
func (h Heartbeat) MarshalJSON() ([]byte, error) {
	if h.LastSeq == nil {
		return []byte("null"), nil
	}
	return strconv.AppendUint(nil, *h.LastSeq, 10), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (h *Heartbeat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		h.LastSeq = nil
		return nil
	}
	n, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return mismatch(KindHeartbeat, "", "data must be null or a non-negative integer")
	}
	h.LastSeq = &n
	return nil
}

// HeartbeatAck acknowledges a Heartbeat. It carries no data.
type HeartbeatAck struct{}

// Dispatch is a sequenced event. Seq and Type travel in the envelope.
type Dispatch struct {
	Seq  uint64
	Type string
	Data json.RawMessage
}

// NewDispatch marshals v as the data of a dispatch named eventType.
// The sequence number is assigned later by the dispatch log.
func NewDispatch(eventType string, v any) (*Dispatch, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &Dispatch{Type: eventType, Data: data}, nil
}

// InvalidSession tells the client its IDENTIFY or RESUME was rejected.
type InvalidSession struct {
	Resumable bool `json:"resumable"`
}

// Reconnect asks the client to reconnect and RESUME. It carries no data.
type Reconnect struct{}

func (*Hello) Kind() Kind { return KindHello }
func (*Identify) Kind() Kind { return KindIdentify }
func (*Resume) Kind() Kind { return KindResume }
func (*Heartbeat) Kind() Kind { return KindHeartbeat }
func (*HeartbeatAck) Kind() Kind { return KindHeartbeatAck }
func (*Dispatch) Kind() Kind { return KindDispatch }
func (*InvalidSession) Kind() Kind { return KindInvalidSession }
func (*Reconnect) Kind() Kind { return KindReconnect }

// User is the principal summary delivered in READY.
type User struct {
	ID       string   `json:"id"`
	Name     string   `json:"name,omitempty"`
	Email    string   `json:"email,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	TenantID string   `json:"tenantId,omitempty"`
}

// Ready is the data of the READY dispatch.
type Ready struct {
	SessionID string   `json:"sessionId"`
	User      User     `json:"user"`
	Groups    []string `json:"groups,omitempty"`
	ResumeURL string   `json:"resumeUrl,omitempty"`
}

// Resumed is the data of the RESUMED dispatch.
type Resumed struct {
	SessionID string `json:"sessionId"`
	Replayed  int    `json:"replayed"`
}

// requiredFields lists the data keys that must be present and non-null.
func requiredFields(kind Kind) []string {
	switch kind {
	case KindHello:
		return []string{"heartbeatInterval"}
	case KindIdentify:
		return []string{"token"}
	case KindResume:
		return []string{"sessionId", "lastSeq"}
	case KindInvalidSession:
		return []string{"resumable"}
	default:
		return nil
	}
}

func (p *Hello) validate() error {
	if p.HeartbeatInterval <= 0 {
		return mismatch(KindHello, "heartbeatInterval", "must be positive")
	}
	return nil
}

func (p *Identify) validate() error {
	if p.Token == "" {
		return mismatch(KindIdentify, "token", "must not be empty")
	}
	return nil
}

func (p *Resume) validate() error {
	if p.SessionID == "" {
		return mismatch(KindResume, "sessionId", "must not be empty")
	}
	return nil
}

func newPayload(kind Kind) Payload {
	switch kind {
	case KindHello:
		return &Hello{}
	case KindIdentify:
		return &Identify{}
	case KindResume:
		return &Resume{}
	case KindHeartbeat:
		return &Heartbeat{}
	case KindHeartbeatAck:
		return &HeartbeatAck{}
	case KindDispatch:
		return &Dispatch{}
	case KindInvalidSession:
		return &InvalidSession{}
	case KindReconnect:
		return &Reconnect{}
	default:
		return nil
	}
}

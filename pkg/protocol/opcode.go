package protocol

import (
	"fmt"
	"sort"
)

// Op is the numeric operation code carried in the "op" field of an envelope.
type Op int

const (
	OpDispatch       Op = 0  // Server → Client sequenced event
	OpHeartbeat      Op = 1  // Client → Server liveness ping
	OpIdentify       Op = 2  // Client → Server authentication
	OpResume         Op = 6  // Client → Server resume session
	OpReconnect      Op = 7  // Server → Client reconnect request
	OpInvalidSession Op = 9  // Server → Client session rejected
	OpHello          Op = 10 // Server → Client heartbeat interval
	OpHeartbeatAck   Op = 11 // Server → Client heartbeat acknowledgement
)

// Direction says which peer sends an operation.
type Direction uint8

const (
	Inbound  Direction = 1 // Client → Server
	Outbound Direction = 2 // Server → Client
)

// String returns the string representation of the direction.
func (d Direction) String() string {
	switch d {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// Kind identifies a payload shape.
type Kind uint8

const (
	KindHello Kind = iota + 1
	KindIdentify
	KindResume
	KindHeartbeat
	KindHeartbeatAck
	KindDispatch
	KindInvalidSession
	KindReconnect
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindHello:
		return "HELLO"
	case KindIdentify:
		return "IDENTIFY"
	case KindResume:
		return "RESUME"
	case KindHeartbeat:
		return "HEARTBEAT"
	case KindHeartbeatAck:
		return "HEARTBEAT_ACK"
	case KindDispatch:
		return "DISPATCH"
	case KindInvalidSession:
		return "INVALID_SESSION"
	case KindReconnect:
		return "RECONNECT"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Entry binds an operation code to a payload kind for one direction.
type Entry struct {
	Op        Op
	Direction Direction
	Kind      Kind
}

// DefaultEntries is the numbering used by the gateway.
var DefaultEntries = []Entry{
	{OpDispatch, Outbound, KindDispatch},
	{OpHeartbeat, Inbound, KindHeartbeat},
	{OpIdentify, Inbound, KindIdentify},
	{OpResume, Inbound, KindResume},
	{OpReconnect, Outbound, KindReconnect},
	{OpInvalidSession, Outbound, KindInvalidSession},
	{OpHello, Outbound, KindHello},
	{OpHeartbeatAck, Outbound, KindHeartbeatAck},
}

// DefaultRegistry is built once at init and is read-only afterwards.
var DefaultRegistry = MustRegistry(DefaultEntries...)

type dirOp struct {
	dir Direction
	op  Op
}

// Registry maps operation codes to payload kinds and back.
// A Registry is immutable after construction and safe for concurrent use.
type Registry struct {
	byOp   map[dirOp]Kind
	byKind map[Kind]Entry
}

// NewRegistry builds a registry from entries. Codes must be unique per
// direction and every kind may appear at most once.
func NewRegistry(entries ...Entry) (*Registry, error) {
	r := &Registry{
		byOp:   make(map[dirOp]Kind, len(entries)),
		byKind: make(map[Kind]Entry, len(entries)),
	}
	for _, e := range entries {
		if e.Direction != Inbound && e.Direction != Outbound {
			return nil, fmt.Errorf("protocol: entry %v: invalid direction %d", e.Kind, e.Direction)
		}
		key := dirOp{e.Direction, e.Op}
		if prev, ok := r.byOp[key]; ok {
			return nil, fmt.Errorf("protocol: op %d %s bound to both %v and %v", e.Op, e.Direction, prev, e.Kind)
		}
		if _, ok := r.byKind[e.Kind]; ok {
			return nil, fmt.Errorf("protocol: kind %v registered twice", e.Kind)
		}
		r.byOp[key] = e.Kind
		r.byKind[e.Kind] = e
	}
	return r, nil
}

// MustRegistry is like NewRegistry but panics on error.
func MustRegistry(entries ...Entry) *Registry {
	r, err := NewRegistry(entries...)
	if err != nil {
		panic(err)
	}
	return r
}

// ResolveInbound returns the kind a client may send with op.
func (r *Registry) ResolveInbound(op Op) (Kind, error) {
	return r.Resolve(Inbound, op)
}

// ResolveOutbound returns the op the server sends kind with.
func (r *Registry) ResolveOutbound(kind Kind) (Op, error) {
	e, ok := r.byKind[kind]
	if !ok || e.Direction != Outbound {
		return 0, fmt.Errorf("%w: no outbound op for %v", ErrUnknownOperation, kind)
	}
	return e.Op, nil
}

// Resolve returns the kind bound to op in the given direction.
func (r *Registry) Resolve(dir Direction, op Op) (Kind, error) {
	kind, ok := r.byOp[dirOp{dir, op}]
	if !ok {
		return 0, fmt.Errorf("%w: op %d (%s)", ErrUnknownOperation, op, dir)
	}
	return kind, nil
}

// Lookup returns the entry registered for kind.
func (r *Registry) Lookup(kind Kind) (Entry, bool) {
	e, ok := r.byKind[kind]
	return e, ok
}

// Entries returns all entries ordered by direction then op.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, 0, len(r.byKind))
	for _, e := range r.byKind {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Direction != out[j].Direction {
			return out[i].Direction < out[j].Direction
		}
		return out[i].Op < out[j].Op
	})
	return out
}

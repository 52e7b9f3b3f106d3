package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Codec converts between frames and typed payloads using a Registry.
// A Codec holds no mutable state and is safe for concurrent use.
type Codec struct {
	registry *Registry
}

// NewCodec returns a codec bound to r. A nil r uses DefaultRegistry.
func NewCodec(r *Registry) *Codec {
	if r == nil {
		r = DefaultRegistry
	}
	return &Codec{registry: r}
}

// DefaultCodec uses DefaultRegistry.
var DefaultCodec = NewCodec(DefaultRegistry)

// Registry returns the registry the codec resolves operations with.
func (c *Codec) Registry() *Registry {
	return c.registry
}

// Encode serializes p into a frame. Output is stable for equal inputs.
// Only a Dispatch carries seq and t, and its Seq must be assigned.
func (c *Codec) Encode(p Payload) ([]byte, error) {
	if p == nil {
		return nil, errors.New("protocol: encode nil payload")
	}
	entry, ok := c.registry.Lookup(p.Kind())
	if !ok {
		return nil, fmt.Errorf("%w: %v not registered", ErrUnknownOperation, p.Kind())
	}

	out := outEnvelope{Op: entry.Op}
	switch v := p.(type) {
	case *Dispatch:
		if v.Seq == 0 {
			return nil, errors.New("protocol: dispatch without sequence number")
		}
		if v.Type == "" {
			return nil, errors.New("protocol: dispatch without event type")
		}
		seq := v.Seq
		out.Seq = &seq
		out.Type = v.Type
		out.Data = v.Data
	case *HeartbeatAck, *Reconnect:
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("protocol: encode %v: %w", p.Kind(), err)
		}
		out.Data = data
	}
	return json.Marshal(out)
}

// Decode parses a frame into an envelope without interpreting its data.
func (c *Codec) Decode(raw []byte) (*Envelope, error) {
	return parseEnvelope(raw)
}

// DecodePayload binds env.Data to the payload shape of kind. Unknown fields,
// wrong types and missing required fields are rejected.
func (c *Codec) DecodePayload(env *Envelope, kind Kind) (Payload, error) {
	p := newPayload(kind)
	if p == nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownOperation, kind)
	}

	switch v := p.(type) {
	case *HeartbeatAck, *Reconnect:
		if !emptyObject(env.Data) {
			return nil, mismatch(kind, "", "expected no data")
		}
		return p, nil
	case *Heartbeat:
		if err := v.UnmarshalJSON(env.Data); err != nil {
			return nil, err
		}
		return p, nil
	case *Dispatch:
		if env.Seq == nil || *env.Seq == 0 {
			return nil, mismatch(kind, "seq", "required")
		}
		if env.Type == "" {
			return nil, mismatch(kind, "t", "required")
		}
		v.Seq = *env.Seq
		v.Type = env.Type
		v.Data = append(json.RawMessage(nil), env.Data...)
		return p, nil
	}

	if err := decodeStrict(kind, env.Data, p); err != nil {
		return nil, err
	}
	if val, ok := p.(interface{ validate() error }); ok {
		if err := val.validate(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// DecodeInbound decodes a frame received from a client.
func (c *Codec) DecodeInbound(raw []byte) (Payload, error) {
	return c.decode(Inbound, raw)
}

// DecodeOutbound decodes a frame received from the server.
func (c *Codec) DecodeOutbound(raw []byte) (Payload, error) {
	return c.decode(Outbound, raw)
}

func (c *Codec) decode(dir Direction, raw []byte) (Payload, error) {
	env, err := c.Decode(raw)
	if err != nil {
		return nil, err
	}
	kind, err := c.registry.Resolve(dir, env.Op)
	if err != nil {
		return nil, err
	}
	return c.DecodePayload(env, kind)
}

func decodeStrict(kind Kind, data json.RawMessage, p Payload) error {
	if len(data) == 0 || data[0] != '{' {
		return mismatch(kind, "", "data must be an object")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return &PayloadError{Kind: kind, Err: err}
	}
	for _, name := range requiredFields(kind) {
		v, ok := fields[name]
		if !ok || bytes.Equal(bytes.TrimSpace(v), jsonNull) {
			return mismatch(kind, name, "required")
		}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return &PayloadError{Kind: kind, Field: typeErr.Field, Reason: "expected " + typeErr.Type.String()}
		}
		return &PayloadError{Kind: kind, Err: err}
	}
	return nil
}

func emptyObject(data json.RawMessage) bool {
	d := bytes.TrimSpace(data)
	if len(d) == 0 || bytes.Equal(d, jsonNull) {
		return true
	}
	var m map[string]json.RawMessage
	return json.Unmarshal(d, &m) == nil && len(m) == 0
}

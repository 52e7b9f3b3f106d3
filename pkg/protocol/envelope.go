package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Envelope is a decoded frame before its data has been bound to a payload.
type Envelope struct {
	Op   Op
	Data json.RawMessage

	// Seq is set only when the frame carried a "seq" field. It is accepted
	// as either a JSON integer or a decimal string.
	Seq *uint64

	// Type is the dispatch event name ("t").
	Type string
}

// wireEnvelope is the JSON shape on the wire.
type wireEnvelope struct {
	Op   json.RawMessage `json:"op"`
	Type string          `json:"t,omitempty"`
	Seq  json.RawMessage `json:"seq,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// outEnvelope is used for encoding so field order is stable.
type outEnvelope struct {
	Op   Op              `json:"op"`
	Type string          `json:"t,omitempty"`
	Seq  *uint64         `json:"seq,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

var jsonNull = []byte("null")

func parseEnvelope(raw []byte) (*Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	op, err := parseOp(w.Op)
	if err != nil {
		return nil, err
	}

	env := &Envelope{Op: op, Type: w.Type}
	if d := bytes.TrimSpace(w.Data); len(d) > 0 && !bytes.Equal(d, jsonNull) {
		env.Data = d
	}
	if s := bytes.TrimSpace(w.Seq); len(s) > 0 && !bytes.Equal(s, jsonNull) {
		seq, err := parseSeq(s)
		if err != nil {
			return nil, err
		}
		env.Seq = &seq
	}
	return env, nil
}

func parseOp(raw json.RawMessage) (Op, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, jsonNull) {
		return 0, fmt.Errorf("%w: missing op", ErrMalformedMessage)
	}
	n, err := strconv.ParseInt(string(raw), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: op %s is not an integer", ErrMalformedMessage, raw)
	}
	return Op(n), nil
}

func parseSeq(raw []byte) (uint64, error) {
	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, fmt.Errorf("%w: seq: %v", ErrMalformedMessage, err)
		}
	}
	n, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: seq %s is not a non-negative integer", ErrMalformedMessage, raw)
	}
	return n, nil
}

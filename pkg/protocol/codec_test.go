package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestEncodeHello(t *testing.T) {
	got, err := DefaultCodec.Encode(&Hello{HeartbeatInterval: 41250})
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	want := `{"op":10,"data":{"heartbeatInterval":41250}}`
	if string(got) != want {
		t.Errorf("Encode = %s, want %s", got, want)
	}
}

func TestEncodeDispatch(t *testing.T) {
	d := &Dispatch{Seq: 7, Type: "MESSAGE_CREATE", Data: json.RawMessage(`{"id":"m1"}`)}
	got, err := DefaultCodec.Encode(d)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	want := `{"op":0,"t":"MESSAGE_CREATE","seq":7,"data":{"id":"m1"}}`
	if string(got) != want {
		t.Errorf("Encode = %s, want %s", got, want)
	}

	again, _ := DefaultCodec.Encode(d)
	if string(again) != string(got) {
		t.Errorf("Encode not stable: %s vs %s", again, got)
	}
}

func TestEncodeDispatchRequiresSeq(t *testing.T) {
	if _, err := DefaultCodec.Encode(&Dispatch{Type: "X"}); err == nil {
		t.Error("Encode dispatch without seq should fail")
	}
	if _, err := DefaultCodec.Encode(&Dispatch{Seq: 1}); err == nil {
		t.Error("Encode dispatch without type should fail")
	}
}

func TestEncodeNoData(t *testing.T) {
	got, err := DefaultCodec.Encode(&HeartbeatAck{})
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	if string(got) != `{"op":11}` {
		t.Errorf("Encode = %s, want {\"op\":11}", got)
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `hello`},
		{"truncated", `{"op":1`},
		{"array", `[1,2]`},
		{"missing op", `{"data":{}}`},
		{"null op", `{"op":null}`},
		{"string op", `{"op":"1"}`},
		{"float op", `{"op":1.5}`},
		{"negative seq", `{"op":0,"seq":-1}`},
		{"bad seq string", `{"op":0,"seq":"abc"}`},
		{"t not string", `{"op":0,"t":5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DefaultCodec.Decode([]byte(tt.raw))
			if !errors.Is(err, ErrMalformedMessage) {
				t.Errorf("Decode(%s) error = %v, want ErrMalformedMessage", tt.raw, err)
			}
		})
	}
}

func TestDecodeSeqIntOrString(t *testing.T) {
	for _, raw := range []string{`{"op":0,"seq":42}`, `{"op":0,"seq":"42"}`} {
		env, err := DefaultCodec.Decode([]byte(raw))
		if err != nil {
			t.Fatalf("Decode(%s) error: %v", raw, err)
		}
		if env.Seq == nil || *env.Seq != 42 {
			t.Errorf("Decode(%s).Seq = %v, want 42", raw, env.Seq)
		}
	}
}

func TestDecodeInbound(t *testing.T) {
	p, err := DefaultCodec.DecodeInbound([]byte(`{"op":2,"data":{"token":"abc","properties":{"os":"linux"}}}`))
	if err != nil {
		t.Fatalf("DecodeInbound error: %v", err)
	}
	id, ok := p.(*Identify)
	if !ok {
		t.Fatalf("payload = %T, want *Identify", p)
	}
	if id.Token != "abc" || id.Properties["os"] != "linux" {
		t.Errorf("Identify = %+v", id)
	}

	p, err = DefaultCodec.DecodeInbound([]byte(`{"op":6,"data":{"sessionId":"s1","lastSeq":0}}`))
	if err != nil {
		t.Fatalf("DecodeInbound resume error: %v", err)
	}
	if r := p.(*Resume); r.SessionID != "s1" || r.LastSeq != 0 {
		t.Errorf("Resume = %+v", r)
	}
}

func TestDecodeInboundUnknownOp(t *testing.T) {
	tests := []string{
		`{"op":99}`,
		`{"op":10,"data":{"heartbeatInterval":1}}`, // HELLO is outbound only
		`{"op":0,"t":"X","seq":1}`,
	}
	for _, raw := range tests {
		_, err := DefaultCodec.DecodeInbound([]byte(raw))
		if !errors.Is(err, ErrUnknownOperation) {
			t.Errorf("DecodeInbound(%s) error = %v, want ErrUnknownOperation", raw, err)
		}
	}
}

func TestDecodePayloadMismatch(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"identify no data", `{"op":2}`},
		{"identify missing token", `{"op":2,"data":{}}`},
		{"identify empty token", `{"op":2,"data":{"token":""}}`},
		{"identify token wrong type", `{"op":2,"data":{"token":5}}`},
		{"identify unknown field", `{"op":2,"data":{"token":"a","extra":true}}`},
		{"identify data not object", `{"op":2,"data":"token"}`},
		{"resume missing lastSeq", `{"op":6,"data":{"sessionId":"s"}}`},
		{"resume null lastSeq", `{"op":6,"data":{"sessionId":"s","lastSeq":null}}`},
		{"resume negative lastSeq", `{"op":6,"data":{"sessionId":"s","lastSeq":-3}}`},
		{"resume empty session", `{"op":6,"data":{"sessionId":"","lastSeq":1}}`},
		{"heartbeat object", `{"op":1,"data":{"seq":1}}`},
		{"heartbeat string", `{"op":1,"data":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DefaultCodec.DecodeInbound([]byte(tt.raw))
			if !errors.Is(err, ErrPayloadMismatch) {
				t.Errorf("DecodeInbound(%s) error = %v, want ErrPayloadMismatch", tt.raw, err)
			}
		})
	}
}

func TestDecodeHeartbeat(t *testing.T) {
	p, err := DefaultCodec.DecodeInbound([]byte(`{"op":1,"data":null}`))
	if err != nil {
		t.Fatalf("DecodeInbound error: %v", err)
	}
	if hb := p.(*Heartbeat); hb.LastSeq != nil {
		t.Errorf("LastSeq = %v, want nil", *hb.LastSeq)
	}

	p, err = DefaultCodec.DecodeInbound([]byte(`{"op":1,"data":12}`))
	if err != nil {
		t.Fatalf("DecodeInbound error: %v", err)
	}
	if hb := p.(*Heartbeat); hb.LastSeq == nil || *hb.LastSeq != 12 {
		t.Errorf("LastSeq = %v, want 12", hb.LastSeq)
	}

	if _, err := DefaultCodec.DecodeInbound([]byte(`{"op":1}`)); err != nil {
		t.Errorf("heartbeat without data: %v", err)
	}
}

func TestRoundTripOutbound(t *testing.T) {
	ready, err := NewDispatch(EventReady, Ready{SessionID: "s1", User: User{ID: "u1"}})
	if err != nil {
		t.Fatal(err)
	}
	ready.Seq = 1

	payloads := []Payload{
		&Hello{HeartbeatInterval: 1000},
		&HeartbeatAck{},
		&InvalidSession{Resumable: false},
		&Reconnect{},
		ready,
	}
	for _, p := range payloads {
		raw, err := DefaultCodec.Encode(p)
		if err != nil {
			t.Fatalf("Encode(%v) error: %v", p.Kind(), err)
		}
		got, err := DefaultCodec.DecodeOutbound(raw)
		if err != nil {
			t.Fatalf("DecodeOutbound(%s) error: %v", raw, err)
		}
		if got.Kind() != p.Kind() {
			t.Errorf("kind = %v, want %v", got.Kind(), p.Kind())
		}
	}
}

func TestPayloadErrorMessage(t *testing.T) {
	_, err := DefaultCodec.DecodeInbound([]byte(`{"op":6,"data":{"sessionId":"s"}}`))
	var pe *PayloadError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %T, want *PayloadError", err)
	}
	if pe.Kind != KindResume || pe.Field != "lastSeq" {
		t.Errorf("PayloadError = %+v", pe)
	}
}

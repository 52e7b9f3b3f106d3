// Package protocol implements the JSON wire protocol spoken by the gateway.
//
// Every frame exchanged over the WebSocket is a single text message carrying
// an operation envelope:
//
//	{"op": 10, "data": {"heartbeatInterval": 41250}}
//	{"op": 0, "t": "MESSAGE_CREATE", "seq": 7, "data": {...}}
//
// The "op" field selects the payload shape. The "seq" and "t" fields are
// only present on DISPATCH frames, which are the only frames that are
// sequenced and replayable.
//
// # Operations
//
//   - OpDispatch (0): Server → Client sequenced event
//   - OpHeartbeat (1): Client → Server liveness ping
//   - OpIdentify (2): Client → Server authentication
//   - OpResume (6): Client → Server resume a previous session
//   - OpReconnect (7): Server → Client request to reconnect and resume
//   - OpInvalidSession (9): Server → Client session rejected
//   - OpHello (10): Server → Client first frame, carries the heartbeat interval
//   - OpHeartbeatAck (11): Server → Client heartbeat acknowledgement
//
// READY and RESUMED are DISPATCH events. They consume a sequence number like
// any other dispatch.
//
// # Decoding
//
// Inbound frames are decoded in three steps:
//
//	env, err := codec.Decode(raw)                  // ErrMalformedMessage
//	kind, err := registry.ResolveInbound(env.Op)   // ErrUnknownOperation
//	payload, err := codec.DecodePayload(env, kind) // ErrPayloadMismatch
//
// Codec.DecodeInbound performs all three.
//
// # Close Codes
//
// Fatal protocol outcomes are reported to the client with a WebSocket close
// code in the 4000 range. See CloseCode.
package protocol

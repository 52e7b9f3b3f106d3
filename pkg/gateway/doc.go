// Package gateway implements the real-time gateway session protocol.
//
// A client connects over WebSocket and receives HELLO with the heartbeat
// interval. It then either IDENTIFYs with a credential, which creates a new
// session and is answered by a READY dispatch, or RESUMEs a previous session,
// which replays every dispatch the client missed followed by RESUMED.
//
// # Architecture
//
// Each connection is served by two goroutines:
//
//   - The read loop (OnConnect) decodes inbound frames and drives the
//     session's state machine. Frames for a session are processed strictly
//     in order.
//   - The write loop owns the socket for writing. Everything sent to the
//     client goes through the connection's bounded send queue.
//
// Dispatches are sequenced per session. Sequence numbers start at 1 (READY),
// are strictly increasing and gap-free, and survive reconnection: every
// dispatch is recorded in the session's DispatchLog before it is queued, so
// a client that reconnects within the resume window can replay from the last
// sequence number it saw.
//
// # Session Lifecycle
//
//	connect ─► AWAITING_IDENTIFY ─IDENTIFY─► ACTIVE ─disconnect─► CLOSED
//	               │                            ▲
//	               └─RESUME─► AWAITING_RESUME ──┘
//
// A closed connection leaves its session in the Registry for the resume
// window. After that the session and its dispatch log are purged.
//
// # Liveness
//
// The HeartbeatMonitor closes any connection whose last HEARTBEAT is older
// than HeartbeatInterval × HeartbeatGrace. It is driven by timers.
//
// # Backpressure
//
// When a connection's send queue is full the connection is closed with
// close code 4012 (reconnect). No dispatch is lost: the client resumes and
// the dispatch log replays whatever was not written.
package gateway

package gateway

// State is the protocol state of a connection.
type State int32

const (
	StateAwaitingIdentify State = iota // HELLO sent, waiting for IDENTIFY or RESUME
	StateAwaitingResume                // RESUME received, replay in progress
	StateActive                        // READY or RESUMED sent
	StateClosed                        // Terminal
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateAwaitingIdentify:
		return "AWAITING_IDENTIFY"
	case StateAwaitingResume:
		return "AWAITING_RESUME"
	case StateActive:
		return "ACTIVE"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

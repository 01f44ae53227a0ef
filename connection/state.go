package connection

// State is the connection lifecycle state. Exactly one logical
// connection exists; its state changes only through the Manager.
type State uint8

const (
	// StateDisconnected is the initial state and the result of an
	// explicit Disconnect. Re-enterable via Connect.
	StateDisconnected State = iota
	// StateConnecting covers both the initial handshake and automatic
	// reconnection attempts.
	StateConnecting
	// StateConnected means a healthy channel is available to borrow.
	StateConnected
	// StateError means retries are exhausted or a terminal failure
	// occurred; no automatic attempts follow until Connect is called.
	StateError
)

// String returns the canonical state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// validTransitions is the complete transition table. Disconnect is
// representable from every state, so StateDisconnected appears as a
// target everywhere.
var validTransitions = map[State]map[State]bool{
	StateDisconnected: {
		StateConnecting:   true,
		StateDisconnected: true,
	},
	StateConnecting: {
		StateConnecting:   true, // retrying
		StateConnected:    true,
		StateError:        true,
		StateDisconnected: true,
	},
	StateConnected: {
		StateConnecting:   true, // keepalive failure, auto-reconnect
		StateDisconnected: true,
	},
	StateError: {
		StateConnecting:   true, // fresh manual attempt cycle
		StateDisconnected: true,
	},
}

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to State) bool {
	return validTransitions[from][to]
}

package connection

import "errors"

// ErrAlreadyConnected is returned by Connect on a supervisor that has
// already left DISCONNECTED.
var ErrAlreadyConnected = errors.New("already connected")

// State represents the connection state.
type State uint8

const (
	// StateDisconnected indicates no connection has been attempted yet.
	StateDisconnected State = iota

	// StateConnecting indicates the initial connect is in progress.
	StateConnecting

	// StateConnected indicates an active, handshaken connection.
	StateConnected

	// StateReconnecting indicates automatic reconnection is in progress.
	StateReconnecting

	// StateClosed indicates the supervisor has shut down for good.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

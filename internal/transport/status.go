package transport

import "fmt"

// EventStatus is published on the dispatcher on every status transition.
// The payload is a Status value.
const EventStatus = "connection:status"

// State is the coarse connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is the observable connection status. It is owned by the
// Connection; every other component treats it as read-only.
type Status struct {
	State State

	// Err is the reason for StateError.
	Err error

	// Attempt is the reconnect attempt in progress, or 0 for the first
	// connection.
	Attempt int
}

// Reconnecting reports whether an automatic reconnect is in progress.
func (s Status) Reconnecting() bool {
	return s.State == StateConnecting && s.Attempt > 0
}

func (s Status) String() string {
	switch {
	case s.State == StateError && s.Err != nil:
		return fmt.Sprintf("error(%v)", s.Err)
	case s.Reconnecting():
		return fmt.Sprintf("reconnecting (attempt %d)", s.Attempt)
	default:
		return s.State.String()
	}
}

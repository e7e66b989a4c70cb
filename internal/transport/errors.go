package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated is returned when no usable bearer token is
	// available. It is fatal to the connect attempt and never retried
	// automatically.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrMaxRetriesExceeded is the terminal reason once the reconnect
	// budget is spent. Only an explicit Connect clears it.
	ErrMaxRetriesExceeded = errors.New("max reconnect attempts exceeded")

	// ErrNotConnected is wrapped by TransportError when emitting without a
	// live socket.
	ErrNotConnected = errors.New("not connected")
)

// TransportError is a socket-level failure. It triggers the reconnect
// policy and is not surfaced to the user until retries are exhausted.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransportError reports whether err (or any error in its chain) is a
// TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsUnauthenticated reports whether err is, or wraps, ErrUnauthenticated.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrUnauthenticated)
}

// FrameError marks a frame that could not be decoded. The connection
// skips it and keeps reading.
type FrameError struct {
	Err error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("malformed frame: %v", e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }

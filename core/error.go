package core

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionClosed is returned when an operation is attempted on a
	// session that has been explicitly closed.
	ErrSessionClosed = errors.New("session closed")
	// ErrNotJoined is returned when an operation targets a room the session
	// has not joined.
	ErrNotJoined = errors.New("room not joined")
	// ErrInvalidMessage is returned when a message input fails validation.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrBadCredentials is returned by the server when a signin attempt
	// carries unknown or wrong credentials.
	ErrBadCredentials = errors.New("invalid credentials")
)

// AuthError is a terminal authentication failure. The connection manager
// never retries after one; the caller has to re-authenticate.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	if e.Reason == "" {
		return "authentication failed"
	}
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// TransportError is a transient failure of the underlying channel. It is
// recovered locally by backoff-retry and never propagates past the
// connection manager; upper components only observe state transitions.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

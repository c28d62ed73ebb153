// Package client implements the realtime synchronization core of a chat
// session: connection lifecycle, room membership, optimistic message
// reconciliation, typing signals, read receipts and notification routing.
//
// All room-scoped state is owned by the RoomTracker's room entries and is
// mutated only through the component contracts; no component keeps a private
// copy that could drift from it.
package client

import (
	"context"

	"github.com/putto11262002/chatsync/core"
)

// Credentials identifies the local user to the event channel. Token is
// presented during the handshake; Username and DisplayName are the local
// identity the sync components key self-checks on.
type Credentials struct {
	Token       string
	Username    string
	DisplayName string
}

// Transport is one live connection to the event channel. Send must be safe
// for concurrent use. Receive returns a channel that is closed when the
// connection dies, whether by failure or by Close.
type Transport interface {
	Send(e *core.Event) error
	Receive() <-chan *core.Event
	Close() error
}

// Dialer establishes transports. Dial blocks until the handshake completes
// or fails. A terminal authentication failure is reported as *core.AuthError;
// any other error is treated as transient and retried by the connection
// manager.
type Dialer interface {
	Dial(ctx context.Context, creds Credentials) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, creds Credentials) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, creds Credentials) (Transport, error) {
	return f(ctx, creds)
}

// Package ws carries core events over gorilla websockets: a room-aware
// fan-out hub plus server connection on one side, and a Dialer implementing
// the client transport on the other.
package ws

import (
	"net/http"
	"time"

	"github.com/putto11262002/chatsync/core"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// Authenticator authenticates an incoming connection request and returns
// the claims of the connecting user. It must be safe to call concurrently.
type Authenticator interface {
	Authenticate(w http.ResponseWriter, r *http.Request) (*core.AuthClaims, bool)
}

type AuthenticatorFunc func(w http.ResponseWriter, r *http.Request) (*core.AuthClaims, bool)

func (f AuthenticatorFunc) Authenticate(w http.ResponseWriter, r *http.Request) (*core.AuthClaims, bool) {
	return f(w, r)
}

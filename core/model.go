package core

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// ConnectionState is the lifecycle state of a client session's connection.
type ConnectionState int

const (
	Connecting ConnectionState = iota
	Open
	Reconnecting
	Closed
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// MessageState tracks whether an optimistic message has been confirmed by
// the server echo yet. A message with no matching echo stays Pending
// indefinitely; there is no rollback.
type MessageState int

const (
	// Pending is a locally inserted message that has not been echoed back.
	Pending MessageState = iota
	// Confirmed is a message acknowledged by the server log.
	Confirmed
)

// Message is one chat message as presented by a session. SentAt is assigned
// by the sender's clock at creation. ClientNonce is only meaningful while
// the message is Pending; it is consumed on reconciliation.
type Message struct {
	ID          string       `json:"id"`
	RoomID      string       `json:"room_id"`
	Sender      string       `json:"sender"`
	SenderName  string       `json:"sender_name"`
	Body        string       `json:"body"`
	SentAt      time.Time    `json:"sent_at"`
	ClientNonce string       `json:"client_nonce,omitempty"`
	State       MessageState `json:"state"`
}

// MessageStatus is the per-viewer delivery status derived from the room's
// read markers and the message's reconciliation state.
type MessageStatus int

const (
	// StatusPending means the message has not been confirmed by the server.
	StatusPending MessageStatus = iota
	// StatusDelivered means the message is in the server log but the viewer
	// has not read past it.
	StatusDelivered
	// StatusRead means the viewer's read marker is at or past the message.
	StatusRead
)

// RoomInfo is the presentation metadata of a room. The room key derivation
// policy lives with the caller; this core only treats RoomID as a stable
// opaque key.
type RoomInfo struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Subtitle string            `json:"subtitle"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// TypingSignal records that a participant signaled typing in a room. It is
// ephemeral and expires a fixed quiet period after LastSignaledAt.
type TypingSignal struct {
	RoomID         string    `json:"room_id"`
	Username       string    `json:"username"`
	LastSignaledAt time.Time `json:"last_signaled_at"`
}

// ReadMarker is the monotonic last-read timestamp of a viewer in a room.
type ReadMarker struct {
	RoomID   string    `json:"room_id"`
	Username string    `json:"username"`
	ReadAt   time.Time `json:"read_at"`
}

var validate = validator.New()

// MessageInput is the input for sending a message to a room.
type MessageInput struct {
	RoomID string `json:"room_id" validate:"required"`
	Body   string `json:"body" validate:"required"`
}

// Validate validates the message input.
func (m *MessageInput) Validate() error {
	if err := validate.Struct(m); err != nil {
		return ErrInvalidMessage
	}
	return nil
}

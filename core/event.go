package core

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Event names carried over the event channel. The channel itself does not
// interpret them; routing happens at both ends.
const (
	MessageEvent      = "message"
	TypingEvent       = "typing"
	ReadEvent         = "read"
	JoinEvent         = "join"
	NotificationEvent = "notification"
)

// Event is the envelope every frame on the event channel is wrapped in.
// Dispatcher is stamped by the receiving side from the authenticated
// connection and never trusted from the wire.
type Event struct {
	Dispatcher string          `json:"-"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
}

func (e Event) String() string {
	return fmt.Sprintf("Event{Dispatcher: %s, Type: %s, Payload.Size: %d}", e.Dispatcher, e.Type, len(e.Payload))
}

func NewEvent(t string, payload interface{}) (*Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	return &Event{Type: t, Payload: b}, nil
}

func EncodeEvent(w io.Writer, e *Event) error {
	if err := json.NewEncoder(w).Encode(e); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return nil
}

func DecodeEvent(r io.Reader, e *Event) error {
	if err := json.NewDecoder(r).Decode(e); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	return nil
}

// MessagePayload carries a chat message in both directions. ClientNonce is
// set by the sending session and echoed back untouched so the sender can
// reconcile the echo against its optimistic copy.
type MessagePayload struct {
	ID          string    `json:"id,omitempty"`
	RoomID      string    `json:"room_id"`
	Sender      string    `json:"sender,omitempty"`
	SenderName  string    `json:"sender_name,omitempty"`
	Body        string    `json:"body"`
	SentAt      time.Time `json:"sent_at"`
	ClientNonce string    `json:"client_nonce,omitempty"`
}

type TypingPayload struct {
	RoomID   string `json:"room_id"`
	Username string `json:"username,omitempty"`
}

type ReadPayload struct {
	RoomID   string    `json:"room_id"`
	Username string    `json:"username,omitempty"`
	At       time.Time `json:"at"`
}

type JoinPayload struct {
	RoomID string `json:"room_id"`
}

type NotificationPayload struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

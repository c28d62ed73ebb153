package client

import (
	"fmt"

	"github.com/putto11262002/chatsync/core"
)

// Decision is the notification router's verdict for one inbound event.
type Decision int

const (
	// Silent routes the event into the synchronizer's normal path with no
	// alert; the focused room already surfaces it.
	Silent Decision = iota
	// Alert surfaces a passive notification for a room that is not focused.
	Alert
)

// Notification is the human-readable summary surfaced for an Alert.
type Notification struct {
	RoomID string
	Text   string
}

// RouteMessage decides whether an inbound message should surface a passive
// alert. It is a pure function of its inputs: messages for the focused room
// are Silent, everything else alerts with "<sender>: <body>" or a generic
// fallback when the sender is unknown.
func RouteMessage(p *core.MessagePayload, focusedRoomID string) (Decision, Notification) {
	if p.RoomID == focusedRoomID {
		return Silent, Notification{}
	}

	sender := p.SenderName
	if sender == "" {
		sender = p.Sender
	}
	text := "new message"
	if sender != "" {
		text = fmt.Sprintf("%s: %s", sender, p.Body)
	}
	return Alert, Notification{RoomID: p.RoomID, Text: text}
}

package client

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/putto11262002/chatsync/core"
)

// ReadTracker keeps the per-room, per-viewer last-read timestamps and
// derives the delivery status of messages from them. Markers only move
// forward; late or duplicate read events are dropped silently.
type ReadTracker struct {
	rooms  *RoomTracker
	user   string
	emit   func(*core.Event) error
	logger *slog.Logger
}

func NewReadTracker(rooms *RoomTracker, user string, emit func(*core.Event) error, logger *slog.Logger) *ReadTracker {
	return &ReadTracker{
		rooms:  rooms,
		user:   user,
		emit:   emit,
		logger: logger,
	}
}

// MarkRead records the local viewer's read marker and emits it outbound.
// The owning application calls this whenever the focused room changes or a
// message arrives in the focused room; calls at arbitrary frequency are
// fine, a non-increasing timestamp is an idempotent no-op.
func (t *ReadTracker) MarkRead(roomID string, at time.Time) error {
	view, ok := t.rooms.Room(roomID)
	if !ok {
		return core.ErrNotJoined
	}
	if !view.mergeRead(t.user, at) {
		return nil
	}

	e, err := core.NewEvent(core.ReadEvent, core.ReadPayload{RoomID: roomID, At: at})
	if err == nil {
		err = t.emit(e)
	}
	if err != nil {
		t.logger.Error(fmt.Sprintf("emit read(%s): %v", roomID, err))
	}
	return nil
}

// OnRemoteRead merges a viewer's read marker. Events for unjoined rooms are
// discarded by the room filter.
func (t *ReadTracker) OnRemoteRead(roomID, viewer string, at time.Time) {
	view, ok := t.rooms.Room(roomID)
	if !ok {
		return
	}
	view.mergeRead(viewer, at)
}

// Status derives a message's status for a viewer: Read once the viewer's
// marker is at or past the message's sentAt, Delivered once the message is
// confirmed by the server log, Pending otherwise.
func (t *ReadTracker) Status(roomID string, m core.Message, viewer string) core.MessageStatus {
	if view, ok := t.rooms.Room(roomID); ok {
		if at, ok := view.ReadMarker(viewer); ok && !at.Before(m.SentAt) {
			return core.StatusRead
		}
	}
	if m.State == core.Confirmed {
		return core.StatusDelivered
	}
	return core.StatusPending
}

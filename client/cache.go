package client

import (
	"context"

	"github.com/putto11262002/chatsync/core"
)

// MessageCache is an optional local store of confirmed messages. The sync
// core is correct without one; a cache only lets a fresh join replay history
// without waiting for the channel.
type MessageCache interface {
	// SaveMessage stores a confirmed message. Saving the same message id
	// twice is a no-op.
	SaveMessage(ctx context.Context, m core.Message) error
	// RoomMessages returns the cached messages of a room ordered by sentAt.
	RoomMessages(ctx context.Context, roomID string) ([]core.Message, error)
}

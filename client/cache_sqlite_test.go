package client

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/putto11262002/chatsync/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *SQLiteMessageCache {
	t.Helper()
	db, err := core.NewSQLiteDB(filepath.Join(t.TempDir(), "cache.db"), "../migrations", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return NewSQLiteMessageCache(db.DB)
}

func TestSQLiteMessageCache(t *testing.T) {
	ctx := context.Background()

	t.Run("saved messages replay in sent order", func(t *testing.T) {
		cache := newTestCache(t)
		base := time.Now().UTC().Truncate(time.Second)

		second := core.Message{ID: "m2", RoomID: "r1", Sender: "bob", SenderName: "Bob", Body: "two", SentAt: base.Add(time.Minute)}
		first := core.Message{ID: "m1", RoomID: "r1", Sender: "alice", SenderName: "Alice", Body: "one", SentAt: base}
		other := core.Message{ID: "m3", RoomID: "r2", Sender: "bob", Body: "elsewhere", SentAt: base}

		require.NoError(t, cache.SaveMessage(ctx, second))
		require.NoError(t, cache.SaveMessage(ctx, first))
		require.NoError(t, cache.SaveMessage(ctx, other))

		messages, err := cache.RoomMessages(ctx, "r1")
		require.NoError(t, err)
		require.Len(t, messages, 2)
		assert.Equal(t, "m1", messages[0].ID)
		assert.Equal(t, "m2", messages[1].ID)
		assert.Equal(t, core.Confirmed, messages[0].State)
		assert.Equal(t, "Alice", messages[0].SenderName)
	})

	t.Run("saving the same id twice keeps one row", func(t *testing.T) {
		cache := newTestCache(t)
		m := core.Message{ID: "m1", RoomID: "r1", Sender: "alice", Body: "hi", SentAt: time.Now().UTC()}

		require.NoError(t, cache.SaveMessage(ctx, m))
		require.NoError(t, cache.SaveMessage(ctx, m))

		messages, err := cache.RoomMessages(ctx, "r1")
		require.NoError(t, err)
		assert.Len(t, messages, 1)
	})

	t.Run("empty room replays nothing", func(t *testing.T) {
		cache := newTestCache(t)
		messages, err := cache.RoomMessages(ctx, "r1")
		require.NoError(t, err)
		assert.Empty(t, messages)
	})
}

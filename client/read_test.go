package client

import (
	"testing"
	"time"

	"github.com/putto11262002/chatsync/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReadTracker(t *testing.T) (*ReadTracker, *RoomTracker, *eventSink) {
	t.Helper()
	sink := &eventSink{}
	rooms := NewRoomTracker(sink.emit, testLogger())
	tracker := NewReadTracker(rooms, "alice", sink.emit, testLogger())
	return tracker, rooms, sink
}

func TestMarkRead(t *testing.T) {
	t.Run("records the marker and emits it", func(t *testing.T) {
		tracker, rooms, sink := newTestReadTracker(t)
		view := rooms.Join("r1", core.RoomInfo{})

		at := time.Now()
		require.NoError(t, tracker.MarkRead("r1", at))

		marker, ok := view.ReadMarker("alice")
		require.True(t, ok)
		assert.Equal(t, at, marker)

		types := sink.types()
		require.Equal(t, []string{core.JoinEvent, core.ReadEvent}, types)
		p := decodePayload[core.ReadPayload](t, sink.all()[1])
		assert.Equal(t, "r1", p.RoomID)
	})

	t.Run("stale marker is a silent no-op", func(t *testing.T) {
		tracker, rooms, sink := newTestReadTracker(t)
		view := rooms.Join("r1", core.RoomInfo{})

		t2 := time.Now()
		t1 := t2.Add(-time.Minute)
		require.NoError(t, tracker.MarkRead("r1", t2))
		require.NoError(t, tracker.MarkRead("r1", t1))

		marker, _ := view.ReadMarker("alice")
		assert.Equal(t, t2, marker)
		// no second read event goes out
		assert.Equal(t, []string{core.JoinEvent, core.ReadEvent}, sink.types())
	})

	t.Run("repeating the same instant emits once", func(t *testing.T) {
		tracker, rooms, sink := newTestReadTracker(t)
		rooms.Join("r1", core.RoomInfo{})

		at := time.Now()
		require.NoError(t, tracker.MarkRead("r1", at))
		require.NoError(t, tracker.MarkRead("r1", at))

		assert.Equal(t, []string{core.JoinEvent, core.ReadEvent}, sink.types())
	})

	t.Run("requires a joined room", func(t *testing.T) {
		tracker, _, _ := newTestReadTracker(t)
		assert.ErrorIs(t, tracker.MarkRead("r1", time.Now()), core.ErrNotJoined)
	})
}

func TestOnRemoteRead(t *testing.T) {
	tracker, rooms, _ := newTestReadTracker(t)
	view := rooms.Join("r1", core.RoomInfo{})

	t1 := time.Now()
	tracker.OnRemoteRead("r1", "bob", t1)
	marker, ok := view.ReadMarker("bob")
	require.True(t, ok)
	assert.Equal(t, t1, marker)

	// markers only move forward
	tracker.OnRemoteRead("r1", "bob", t1.Add(-time.Minute))
	marker, _ = view.ReadMarker("bob")
	assert.Equal(t, t1, marker)

	// unjoined rooms are filtered
	tracker.OnRemoteRead("other", "bob", t1)
	_, ok = view.ReadMarker("carol")
	assert.False(t, ok)
}

func TestStatus(t *testing.T) {
	tracker, rooms, _ := newTestReadTracker(t)
	rooms.Join("r1", core.RoomInfo{})

	sentAt := time.Now()
	pending := core.Message{RoomID: "r1", Sender: "alice", Body: "hi", SentAt: sentAt, State: core.Pending}
	confirmed := pending
	confirmed.State = core.Confirmed

	assert.Equal(t, core.StatusPending, tracker.Status("r1", pending, "bob"))
	assert.Equal(t, core.StatusDelivered, tracker.Status("r1", confirmed, "bob"))

	tracker.OnRemoteRead("r1", "bob", sentAt.Add(-time.Second))
	assert.Equal(t, core.StatusDelivered, tracker.Status("r1", confirmed, "bob"))

	tracker.OnRemoteRead("r1", "bob", sentAt)
	assert.Equal(t, core.StatusRead, tracker.Status("r1", confirmed, "bob"))

	// another viewer's marker does not affect bob's view
	assert.Equal(t, core.StatusDelivered, tracker.Status("r1", confirmed, "carol"))
}

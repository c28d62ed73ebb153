package client

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/putto11262002/chatsync/core"
)

// RoomView is one room's state as observed by the session: the presented
// message list, who is currently typing and the read markers of every
// viewer. It is the single source of truth; components mutate it only
// through their contracts.
type RoomView struct {
	info core.RoomInfo

	mu       sync.RWMutex
	messages []*core.Message
	// byNonce indexes pending optimistic messages by client nonce. Message
	// positions never shift (entries are appended or replaced in place), so
	// the indices stay valid.
	byNonce map[string]int
	typing  map[string]time.Time
	markers map[string]time.Time
}

func newRoomView(info core.RoomInfo) *RoomView {
	return &RoomView{
		info:    info,
		byNonce: make(map[string]int),
		typing:  make(map[string]time.Time),
		markers: make(map[string]time.Time),
	}
}

func (v *RoomView) Info() core.RoomInfo {
	return v.info
}

// Messages returns a snapshot of the room's message list in presentation
// order.
func (v *RoomView) Messages() []core.Message {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]core.Message, 0, len(v.messages))
	for _, m := range v.messages {
		out = append(out, *m)
	}
	return out
}

// Typing returns the usernames currently typing in the room.
func (v *RoomView) Typing() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, 0, len(v.typing))
	for u := range v.typing {
		out = append(out, u)
	}
	return out
}

// ReadMarker returns the viewer's last-read timestamp in this room.
func (v *RoomView) ReadMarker(viewer string) (time.Time, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	at, ok := v.markers[viewer]
	return at, ok
}

func (v *RoomView) add(m *core.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.messages = append(v.messages, m)
	if m.State == core.Pending && m.ClientNonce != "" {
		v.byNonce[m.ClientNonce] = len(v.messages) - 1
	}
}

// seed loads previously confirmed messages into an empty view. Used to
// replay a local cache on join; a non-empty view is left untouched.
func (v *RoomView) seed(messages []core.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.messages) > 0 {
		return
	}
	for _, m := range messages {
		m := m
		m.State = core.Confirmed
		v.messages = append(v.messages, &m)
	}
}

// reconcile matches an inbound echo against the pending optimistic entries
// and replaces the match in place, keeping its position. The nonce match is
// authoritative; absent a nonce the oldest pending entry with the same body
// and a close-enough sentAt wins. ambiguous reports whether more than one
// entry matched the heuristic.
func (v *RoomView) reconcile(p *core.MessagePayload, tolerance time.Duration) (confirmed core.Message, matched, ambiguous bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	idx := -1
	if p.ClientNonce != "" {
		if i, ok := v.byNonce[p.ClientNonce]; ok {
			idx = i
		}
	} else {
		matches := 0
		for i, m := range v.messages {
			if m.State != core.Pending || m.Sender != p.Sender {
				continue
			}
			d := m.SentAt.Sub(p.SentAt)
			if d < 0 {
				d = -d
			}
			if m.Body == p.Body && d <= tolerance {
				matches++
				if idx == -1 {
					idx = i
				}
			}
		}
		ambiguous = matches > 1
	}

	if idx == -1 {
		return core.Message{}, false, ambiguous
	}

	m := v.messages[idx]
	delete(v.byNonce, m.ClientNonce)
	m.ID = p.ID
	m.SentAt = p.SentAt
	m.ClientNonce = ""
	m.State = core.Confirmed
	return *m, true, ambiguous
}

func (v *RoomView) setTyping(username string, at time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.typing[username] = at
}

func (v *RoomView) clearTyping(username string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.typing, username)
}

// mergeRead applies a read marker if it advances the stored one. Stale and
// duplicate markers are dropped, which is the normal fate of late or
// repeated read events, not an error.
func (v *RoomView) mergeRead(viewer string, at time.Time) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if cur, ok := v.markers[viewer]; ok && !at.After(cur) {
		return false
	}
	v.markers[viewer] = at
	return true
}

// RoomTracker maps the session to the set of rooms it has joined and owns
// their state. It is the room filter every other component relies on:
// inbound events for rooms not present here are discarded.
type RoomTracker struct {
	rooms  *core.SyncMap[string, *RoomView]
	emit   func(*core.Event) error
	logger *slog.Logger
	// onLeave lets the typing tracker cancel a room's expiry timers when
	// the room is left or the session closes.
	onLeave func(roomID string)
}

func NewRoomTracker(emit func(*core.Event) error, logger *slog.Logger) *RoomTracker {
	return &RoomTracker{
		rooms:  core.NewSyncMap[string, *RoomView](),
		emit:   emit,
		logger: logger,
	}
}

// OnLeave registers the room teardown hook. Must be set before events flow.
func (t *RoomTracker) OnLeave(f func(roomID string)) {
	t.onLeave = f
}

// Join returns the room's view, creating it and announcing membership on
// the channel the first time. Joining an already joined room returns the
// existing view with no side effects.
func (t *RoomTracker) Join(roomID string, info core.RoomInfo) *RoomView {
	view, loaded := t.rooms.LoadOrStore(roomID, func() *RoomView {
		if info.ID == "" {
			info.ID = roomID
		}
		return newRoomView(info)
	})
	if loaded {
		return view
	}

	e, err := core.NewEvent(core.JoinEvent, core.JoinPayload{RoomID: roomID})
	if err == nil {
		err = t.emit(e)
	}
	if err != nil {
		t.logger.Error(fmt.Sprintf("announce join(%s): %v", roomID, err))
	}
	return view
}

// Leave drops the room and its state. Expiry timers tied to the room are
// canceled through the OnLeave hook.
func (t *RoomTracker) Leave(roomID string) {
	if _, ok := t.rooms.LoadAndDelete(roomID); !ok {
		return
	}
	if t.onLeave != nil {
		t.onLeave(roomID)
	}
}

// Room returns the view for a joined room. The second return is the room
// filter: callers drop events for rooms that are not joined.
func (t *RoomTracker) Room(roomID string) (*RoomView, bool) {
	return t.rooms.Load(roomID)
}

// CurrentRooms returns the ids of all joined rooms.
func (t *RoomTracker) CurrentRooms() []string {
	out := make([]string, 0, t.rooms.Len())
	t.rooms.RRange(func(id string, _ *RoomView) bool {
		out = append(out, id)
		return true
	})
	return out
}

// Rejoin re-announces every joined room on a fresh transport. Membership is
// not assumed to survive the transport layer, so this runs before any other
// component processes new events after a reconnect.
func (t *RoomTracker) Rejoin(send func(*core.Event) error) {
	t.rooms.RRange(func(id string, _ *RoomView) bool {
		e, err := core.NewEvent(core.JoinEvent, core.JoinPayload{RoomID: id})
		if err == nil {
			err = send(e)
		}
		if err != nil {
			t.logger.Error(fmt.Sprintf("rejoin(%s): %v", id, err))
		}
		return true
	})
}

// Close tears down all rooms, firing the leave hook for each so no timer
// outlives the session.
func (t *RoomTracker) Close() {
	for _, id := range t.CurrentRooms() {
		t.Leave(id)
	}
}

package client

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/putto11262002/chatsync/core"
)

// TypingTTL is the quiet period after which a typing signal expires with no
// renewal required from the peer.
const TypingTTL = 2000 * time.Millisecond

type typingKey struct {
	roomID   string
	username string
}

// typingTimer pairs an expiry timer with the generation of the signal that
// armed it. A renewal bumps the generation, so a stale callback that already
// fired before Stop can tell it lost the race and must not clear anything.
type typingTimer struct {
	timer *time.Timer
	gen   uint64
}

// TypingTracker maintains the per-room set of currently typing participants.
// Each entry auto-expires TypingTTL after the last signal; a renewed signal
// cancels and reschedules the expiry timer for that (room, user) pair.
// Typing signals are best-effort and lossy, there is no acknowledgement.
type TypingTracker struct {
	rooms  *RoomTracker
	user   string
	ttl    time.Duration
	emit   func(*core.Event) error
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	timers map[typingKey]*typingTimer
	seq    uint64
	closed bool
}

type TypingTrackerOption func(*TypingTracker)

// WithTypingTTL overrides the expiry period.
func WithTypingTTL(ttl time.Duration) TypingTrackerOption {
	return func(t *TypingTracker) {
		t.ttl = ttl
	}
}

func NewTypingTracker(rooms *RoomTracker, user string, emit func(*core.Event) error, logger *slog.Logger, opts ...TypingTrackerOption) *TypingTracker {
	t := &TypingTracker{
		rooms:  rooms,
		user:   user,
		ttl:    TypingTTL,
		emit:   emit,
		logger: logger,
		now:    time.Now,
		timers: make(map[typingKey]*typingTimer),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SignalTyping emits an outbound typing event for the room. The caller
// throttles to at most one call per keystroke burst.
func (t *TypingTracker) SignalTyping(roomID string) error {
	if _, ok := t.rooms.Room(roomID); !ok {
		return core.ErrNotJoined
	}
	e, err := core.NewEvent(core.TypingEvent, core.TypingPayload{RoomID: roomID})
	if err != nil {
		return err
	}
	if err := t.emit(e); err != nil {
		t.logger.Error(fmt.Sprintf("emit typing(%s): %v", roomID, err))
	}
	return nil
}

// OnRemoteTyping inserts or refreshes a typing signal and (re)schedules its
// expiry. A user's own signals never surface in their own indicator.
func (t *TypingTracker) OnRemoteTyping(roomID, username string) {
	if username == t.user {
		return
	}
	view, ok := t.rooms.Room(roomID)
	if !ok {
		return
	}

	view.setTyping(username, t.now())

	key := typingKey{roomID: roomID, username: username}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if cur, ok := t.timers[key]; ok {
		cur.timer.Stop()
	}
	t.seq++
	gen := t.seq
	t.timers[key] = &typingTimer{
		gen: gen,
		timer: time.AfterFunc(t.ttl, func() {
			t.expire(key, gen)
		}),
	}
}

func (t *TypingTracker) expire(key typingKey, gen uint64) {
	t.mu.Lock()
	cur, ok := t.timers[key]
	if !ok || cur.gen != gen {
		// a renewal re-armed the pair after this timer fired
		t.mu.Unlock()
		return
	}
	delete(t.timers, key)
	t.mu.Unlock()
	if view, ok := t.rooms.Room(key.roomID); ok {
		view.clearTyping(key.username)
	}
}

// StopRoom cancels every expiry timer for a room. Called when the room is
// left so no timer fires against torn-down state.
func (t *TypingTracker) StopRoom(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, cur := range t.timers {
		if key.roomID == roomID {
			cur.timer.Stop()
			delete(t.timers, key)
		}
	}
}

// Close cancels all timers. No expiry fires after Close.
func (t *TypingTracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for key, cur := range t.timers {
		cur.timer.Stop()
		delete(t.timers, key)
	}
}

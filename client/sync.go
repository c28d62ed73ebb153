package client

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/putto11262002/chatsync/core"
)

// reconcileTolerance bounds how far apart sentAt timestamps may be for the
// heuristic fallback match when an echo carries no client nonce.
const reconcileTolerance = 2 * time.Second

// Synchronizer merges locally originated optimistic messages with
// server-echoed ones per room so each logical message appears exactly once,
// in a stable position.
type Synchronizer struct {
	rooms       *RoomTracker
	user        string
	displayName string
	emit        func(*core.Event) error
	cache       MessageCache
	tolerance   time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

type SynchronizerOption func(*Synchronizer)

// WithMessageCache enables write-through of confirmed messages to a local
// cache.
func WithMessageCache(c MessageCache) SynchronizerOption {
	return func(s *Synchronizer) {
		s.cache = c
	}
}

func NewSynchronizer(rooms *RoomTracker, user, displayName string, emit func(*core.Event) error, logger *slog.Logger, opts ...SynchronizerOption) *Synchronizer {
	s := &Synchronizer{
		rooms:       rooms,
		user:        user,
		displayName: displayName,
		emit:        emit,
		tolerance:   reconcileTolerance,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendLocal optimistically inserts a message into the room and emits it on
// the channel. The returned message is Pending until the matching echo
// reconciles it; if no echo ever arrives it stays Pending, there is no
// rollback.
func (s *Synchronizer) SendLocal(roomID, body string) (*core.Message, error) {
	input := core.MessageInput{RoomID: roomID, Body: body}
	if err := input.Validate(); err != nil {
		return nil, err
	}

	view, ok := s.rooms.Room(roomID)
	if !ok {
		return nil, core.ErrNotJoined
	}

	m := &core.Message{
		RoomID:      roomID,
		Sender:      s.user,
		SenderName:  s.displayName,
		Body:        body,
		SentAt:      s.now(),
		ClientNonce: uuid.NewString(),
		State:       core.Pending,
	}
	view.add(m)

	e, err := core.NewEvent(core.MessageEvent, core.MessagePayload{
		RoomID:      m.RoomID,
		Body:        m.Body,
		SentAt:      m.SentAt,
		ClientNonce: m.ClientNonce,
	})
	if err == nil {
		err = s.emit(e)
	}
	if err != nil {
		s.logger.Error(fmt.Sprintf("emit message(%s): %v", roomID, err))
	}

	out := *m
	return &out, nil
}

// OnRemoteMessage folds an inbound message into its room. Messages for
// rooms the session has not joined are discarded. An echo of the local
// user's own round-trip reconciles against its optimistic entry in place;
// a message from one of the user's other sessions, or any other
// participant, is appended in arrival order.
func (s *Synchronizer) OnRemoteMessage(p *core.MessagePayload) {
	view, ok := s.rooms.Room(p.RoomID)
	if !ok {
		return
	}

	if p.Sender == s.user {
		confirmed, matched, ambiguous := view.reconcile(p, s.tolerance)
		if ambiguous {
			s.logger.Warn(fmt.Sprintf("ambiguous reconciliation in room %s, oldest pending entry wins", p.RoomID))
		}
		if matched {
			s.persist(confirmed)
			return
		}
	}

	m := &core.Message{
		ID:         p.ID,
		RoomID:     p.RoomID,
		Sender:     p.Sender,
		SenderName: p.SenderName,
		Body:       p.Body,
		SentAt:     p.SentAt,
		State:      core.Confirmed,
	}
	view.add(m)
	s.persist(*m)
}

func (s *Synchronizer) persist(m core.Message) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SaveMessage(context.Background(), m); err != nil {
		s.logger.Error(fmt.Sprintf("cache message: %v", err))
	}
}

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/putto11262002/chatsync/core"
)

// SessionConfig wires a session together. Dialer and Credentials are
// required; everything else has a sensible zero value.
type SessionConfig struct {
	Dialer      Dialer
	Credentials Credentials

	// Backoff overrides the reconnect policy.
	Backoff *BackoffPolicy
	// TypingTTL overrides the typing signal expiry.
	TypingTTL time.Duration
	// Cache enables local persistence of confirmed messages.
	Cache MessageCache
	// Focused supplies the currently focused room id. The UI layer owns
	// focus; the session only consults it to route notifications.
	Focused func() string
	// OnNotification receives passive alerts for unfocused rooms.
	OnNotification func(Notification)
	// OnStateChange observes every connection state transition.
	OnStateChange func(core.ConnectionState)

	Logger *slog.Logger
}

// Session is one authenticated client's live connection plus its local
// state. It runs a single dispatch loop over the inbound event stream and
// exposes the component contracts behind a flat API.
type Session struct {
	id     string
	creds  Credentials
	conn   *ConnManager
	rooms  *RoomTracker
	syncer *Synchronizer
	typing *TypingTracker
	read   *ReadTracker
	cache  MessageCache

	focused  func() string
	onNotify func(Notification)
	logger   *slog.Logger

	wg sync.WaitGroup
}

func NewSession(cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("user", cfg.Credentials.Username))

	s := &Session{
		id:       uuid.NewString(),
		creds:    cfg.Credentials,
		cache:    cfg.Cache,
		focused:  cfg.Focused,
		onNotify: cfg.OnNotification,
		logger:   logger,
	}

	connOpts := []ConnManagerOption{WithLogger(logger)}
	if cfg.Backoff != nil {
		connOpts = append(connOpts, WithBackoffPolicy(*cfg.Backoff))
	}
	s.conn = NewConnManager(cfg.Dialer, cfg.Credentials, connOpts...)

	s.rooms = NewRoomTracker(s.conn.Send, logger)

	var syncOpts []SynchronizerOption
	if cfg.Cache != nil {
		syncOpts = append(syncOpts, WithMessageCache(cfg.Cache))
	}
	s.syncer = NewSynchronizer(s.rooms, cfg.Credentials.Username, cfg.Credentials.DisplayName, s.conn.Send, logger, syncOpts...)

	var typingOpts []TypingTrackerOption
	if cfg.TypingTTL > 0 {
		typingOpts = append(typingOpts, WithTypingTTL(cfg.TypingTTL))
	}
	s.typing = NewTypingTracker(s.rooms, cfg.Credentials.Username, s.conn.Send, logger, typingOpts...)

	s.read = NewReadTracker(s.rooms, cfg.Credentials.Username, s.conn.Send, logger)

	s.rooms.OnLeave(s.typing.StopRoom)
	s.conn.OnReopen(s.rooms.Rejoin)
	if cfg.OnStateChange != nil {
		s.conn.OnStateChange(cfg.OnStateChange)
	}

	return s
}

// ID is the session's unique id, assigned at creation.
func (s *Session) ID() string {
	return s.id
}

// Username is the authenticated local user.
func (s *Session) Username() string {
	return s.creds.Username
}

// Open performs the handshake and starts dispatching inbound events. It
// blocks until the connection is open; the only terminal failure is an
// authentication error.
func (s *Session) Open(ctx context.Context) error {
	if err := s.conn.Open(ctx); err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.dispatch()
	}()
	return nil
}

// Close releases the session: all joined rooms are left, typing expiry
// timers are canceled and queued sends are discarded with an explicit
// error. No timer or retry fires after Close returns.
func (s *Session) Close() {
	s.conn.Close()
	s.wg.Wait()
	s.typing.Close()
	s.rooms.Close()
}

// State returns the connection state.
func (s *Session) State() core.ConnectionState {
	return s.conn.State()
}

// Err returns the terminal error that closed the session, if any.
func (s *Session) Err() error {
	return s.conn.Err()
}

// Join announces membership in a room and returns its view. Joining an
// already joined room returns the existing view with no side effects. With
// a cache configured, a fresh view is seeded from cached history.
func (s *Session) Join(roomID string, info core.RoomInfo) *RoomView {
	view := s.rooms.Join(roomID, info)
	if s.cache != nil {
		messages, err := s.cache.RoomMessages(context.Background(), roomID)
		if err != nil {
			s.logger.Error(fmt.Sprintf("replay cache(%s): %v", roomID, err))
		} else if len(messages) > 0 {
			view.seed(messages)
		}
	}
	return view
}

func (s *Session) Leave(roomID string) {
	s.rooms.Leave(roomID)
}

func (s *Session) CurrentRooms() []string {
	return s.rooms.CurrentRooms()
}

// Room returns the view of a joined room.
func (s *Session) Room(roomID string) (*RoomView, bool) {
	return s.rooms.Room(roomID)
}

// SendMessage optimistically inserts a message and emits it.
func (s *Session) SendMessage(roomID, body string) (*core.Message, error) {
	return s.syncer.SendLocal(roomID, body)
}

// SignalTyping emits a typing signal for the room.
func (s *Session) SignalTyping(roomID string) error {
	return s.typing.SignalTyping(roomID)
}

// MarkRead records the local read marker for the room and emits it.
func (s *Session) MarkRead(roomID string, at time.Time) error {
	return s.read.MarkRead(roomID, at)
}

// MessageStatus derives the status of a message for a viewer.
func (s *Session) MessageStatus(roomID string, m core.Message, viewer string) core.MessageStatus {
	return s.read.Status(roomID, m, viewer)
}

func (s *Session) dispatch() {
	for e := range s.conn.Receive() {
		switch e.Type {
		case core.MessageEvent:
			var p core.MessagePayload
			if err := json.Unmarshal(e.Payload, &p); err != nil {
				s.logger.Error(fmt.Sprintf("unmarshal message event: %v", err))
				continue
			}
			if decision, n := RouteMessage(&p, s.focusedRoom()); decision == Alert {
				s.notify(n)
			}
			s.syncer.OnRemoteMessage(&p)

		case core.TypingEvent:
			var p core.TypingPayload
			if err := json.Unmarshal(e.Payload, &p); err != nil {
				s.logger.Error(fmt.Sprintf("unmarshal typing event: %v", err))
				continue
			}
			s.typing.OnRemoteTyping(p.RoomID, p.Username)

		case core.ReadEvent:
			var p core.ReadPayload
			if err := json.Unmarshal(e.Payload, &p); err != nil {
				s.logger.Error(fmt.Sprintf("unmarshal read event: %v", err))
				continue
			}
			s.read.OnRemoteRead(p.RoomID, p.Username, p.At)

		case core.NotificationEvent:
			var p core.NotificationPayload
			if err := json.Unmarshal(e.Payload, &p); err != nil {
				s.logger.Error(fmt.Sprintf("unmarshal notification event: %v", err))
				continue
			}
			s.notify(Notification{Text: p.Text})

		default:
			s.logger.Debug(fmt.Sprintf("unhandled event type: %s", e.Type))
		}
	}
}

func (s *Session) focusedRoom() string {
	if s.focused == nil {
		return ""
	}
	return s.focused()
}

func (s *Session) notify(n Notification) {
	if s.onNotify == nil {
		return
	}
	s.onNotify(n)
}

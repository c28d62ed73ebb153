package ws

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/putto11262002/chatsync/core"
)

type HubState int

const (
	StateClosed HubState = iota
	StateClosing
	StateRunning
)

// Hub fans events out to room members. All membership mutation and
// broadcasting happens on the hub's single goroutine, so every broadcast
// sees one consistent snapshot of membership: a message never reaches a
// member that had already left before the snapshot was taken.
type Hub struct {
	// conns maps a username to its open connections.
	conns map[string][]*Conn
	// rooms maps a room id to the set of member usernames. A room exists
	// exactly as long as someone references it.
	rooms map[string]map[string]struct{}
	// names remembers the display name a user authenticated with.
	names map[string]string

	connectChan    chan *Conn
	disconnectChan chan *Conn
	in             chan *core.Event
	exit           chan struct{}

	authenticator Authenticator
	upgrader      websocket.Upgrader
	logger        *slog.Logger
	closeTimeout  time.Duration

	wg    sync.WaitGroup
	state HubState
	mu    sync.RWMutex
}

type HubOption func(*Hub)

func WithLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = logger
	}
}

func WithCheckOrigin(f func(r *http.Request) bool) HubOption {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = f
	}
}

func WithCloseTimeout(d time.Duration) HubOption {
	return func(h *Hub) {
		h.closeTimeout = d
	}
}

func NewHub(a Authenticator, opts ...HubOption) *Hub {
	hub := &Hub{
		conns:          make(map[string][]*Conn),
		rooms:          make(map[string]map[string]struct{}),
		names:          make(map[string]string),
		connectChan:    make(chan *Conn),
		disconnectChan: make(chan *Conn),
		in:             make(chan *core.Event, 64),
		exit:           make(chan struct{}),
		authenticator:  a,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
			return true
		}},
		logger:       slog.Default(),
		closeTimeout: 10 * time.Second,
		state:        StateClosed,
	}

	for _, opt := range opts {
		opt(hub)
	}

	return hub
}

func (hub *Hub) Start() {
	hub.wg.Add(1)
	go func() {
		defer func() {
			hub.wg.Done()
			hub.logger.Info("hub stopped")
		}()
		hub.run()
	}()
	hub.logger.Info("hub started")
}

func (hub *Hub) run() {
	hub.mu.Lock()
	hub.state = StateRunning
	hub.mu.Unlock()
	defer func() {
		hub.mu.Lock()
		hub.state = StateClosed
		hub.mu.Unlock()
	}()
	for {
		select {
		case <-hub.exit:
			return
		case c := <-hub.connectChan:
			hub.connect(c)
		case c := <-hub.disconnectChan:
			hub.disconnect(c)
		case e := <-hub.in:
			hub.handle(e)
		}
	}
}

// Close disconnects every connection and stops the hub, waiting for the
// clean up to complete or the close timeout.
func (hub *Hub) Close() {
	hub.mu.Lock()
	if hub.state != StateRunning {
		hub.mu.Unlock()
		return
	}
	hub.state = StateClosing
	hub.mu.Unlock()

	close(hub.exit)
	for _, conns := range hub.conns {
		for i := len(conns) - 1; i >= 0; i-- {
			conns[i].close()
		}
	}

	timer := time.NewTimer(hub.closeTimeout)
	defer timer.Stop()
	done := make(chan struct{})
	go func() {
		hub.wg.Wait()
		close(done)
	}()

	select {
	case <-timer.C:
		hub.logger.Info("hub closed with timeout")
	case <-done:
		hub.logger.Info("hub closed gracefully")
	}
}

// ServeHTTP authenticates the request, upgrades it to a websocket
// connection and registers it with the hub.
func (hub *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, ok := hub.authenticator.Authenticate(w, r)
	if !ok {
		return
	}
	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error(fmt.Sprintf("upgrade: %v", err))
		return
	}
	c := &Conn{
		conn:        conn,
		username:    claims.Username,
		displayName: claims.DisplayName,
		hub:         hub,
		writeStream: make(chan *core.Event, 64),
		ticker:      time.NewTicker(pingPeriod),
		logger:      hub.logger.With(slog.String("conn", claims.Username)),
	}
	hub.Connect(c)
}

// Connect registers the connection with the hub loop. A connection arriving
// after shutdown began is closed instead of queued; its pumps never start.
func (hub *Hub) Connect(c *Conn) {
	select {
	case hub.connectChan <- c:
	case <-hub.exit:
		c.conn.Close()
	}
}

// Disconnect hands the connection back to the hub loop. Once the hub is
// shutting down the loop no longer drains the channel and Close tears every
// connection down itself, so the handoff is skipped instead of blocking the
// read pump forever.
func (hub *Hub) Disconnect(c *Conn) {
	select {
	case hub.disconnectChan <- c:
	case <-hub.exit:
	}
}

func (hub *Hub) pass(e *core.Event) {
	hub.in <- e
}

func (hub *Hub) connect(c *Conn) {
	conns := hub.conns[c.username]
	c.id = len(conns) + 1
	hub.conns[c.username] = append(conns, c)
	hub.names[c.username] = c.displayName

	hub.wg.Add(1)
	go func() {
		defer hub.wg.Done()
		c.readLoop()
	}()
	hub.wg.Add(1)
	go func() {
		defer hub.wg.Done()
		c.writeLoop()
	}()

	hub.logger.Info("connection opened", slog.String("user", c.username), slog.Int("id", c.id))
	if len(hub.conns[c.username]) == 1 {
		hub.presence(c.username, "online")
	}
}

func (hub *Hub) disconnect(c *Conn) {
	conns, ok := hub.conns[c.username]
	if !ok {
		return
	}
	idx := slices.Index(conns, c)
	if idx == -1 {
		return
	}
	conns = slices.Delete(conns, idx, idx+1)
	if len(conns) == 0 {
		delete(hub.conns, c.username)
	} else {
		hub.conns[c.username] = conns
	}
	c.close()
	hub.logger.Info("connection closed", slog.String("user", c.username), slog.Int("id", c.id))

	if _, still := hub.conns[c.username]; !still {
		hub.presence(c.username, "offline")
		for roomID, members := range hub.rooms {
			delete(members, c.username)
			if len(members) == 0 {
				delete(hub.rooms, roomID)
			}
		}
	}
}

// handle routes one inbound event. Runs on the hub goroutine.
func (hub *Hub) handle(e *core.Event) {
	var err error
	switch e.Type {
	case core.JoinEvent:
		err = hub.handleJoin(e)
	case core.MessageEvent:
		err = hub.handleMessage(e)
	case core.TypingEvent:
		err = hub.handleTyping(e)
	case core.ReadEvent:
		err = hub.handleRead(e)
	default:
		hub.logger.Debug(fmt.Sprintf("unhandled event type: %s", e.Type))
	}
	if err != nil {
		hub.logger.Error(fmt.Sprintf("handle %s from %s: %v", e.Type, e.Dispatcher, err))
	}
}

func (hub *Hub) handleJoin(e *core.Event) error {
	var p core.JoinPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return fmt.Errorf("unmarshal join payload: %w", err)
	}
	if p.RoomID == "" {
		return fmt.Errorf("empty room id")
	}
	members, ok := hub.rooms[p.RoomID]
	if !ok {
		members = make(map[string]struct{})
		hub.rooms[p.RoomID] = members
	}
	members[e.Dispatcher] = struct{}{}
	return nil
}

func (hub *Hub) handleMessage(e *core.Event) error {
	var p core.MessagePayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return fmt.Errorf("unmarshal message payload: %w", err)
	}
	members, ok := hub.members(p.RoomID, e.Dispatcher)
	if !ok {
		return fmt.Errorf("%s is not a member of %s", e.Dispatcher, p.RoomID)
	}

	// Stamp the authoritative fields; the client nonce rides back untouched
	// so the sender can reconcile its optimistic copy.
	p.ID = uuid.NewString()
	p.Sender = e.Dispatcher
	p.SenderName = hub.names[e.Dispatcher]

	out, err := core.NewEvent(core.MessageEvent, p)
	if err != nil {
		return err
	}
	for member := range members {
		hub.sendToUser(member, out)
	}
	return nil
}

func (hub *Hub) handleTyping(e *core.Event) error {
	var p core.TypingPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return fmt.Errorf("unmarshal typing payload: %w", err)
	}
	members, ok := hub.members(p.RoomID, e.Dispatcher)
	if !ok {
		return fmt.Errorf("%s is not a member of %s", e.Dispatcher, p.RoomID)
	}

	p.Username = e.Dispatcher
	out, err := core.NewEvent(core.TypingEvent, p)
	if err != nil {
		return err
	}
	for member := range members {
		if member == e.Dispatcher {
			continue
		}
		hub.sendToUser(member, out)
	}
	return nil
}

func (hub *Hub) handleRead(e *core.Event) error {
	var p core.ReadPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return fmt.Errorf("unmarshal read payload: %w", err)
	}
	members, ok := hub.members(p.RoomID, e.Dispatcher)
	if !ok {
		return fmt.Errorf("%s is not a member of %s", e.Dispatcher, p.RoomID)
	}

	p.Username = e.Dispatcher
	out, err := core.NewEvent(core.ReadEvent, p)
	if err != nil {
		return err
	}
	for member := range members {
		if member == e.Dispatcher {
			continue
		}
		hub.sendToUser(member, out)
	}
	return nil
}

// members returns the room's membership if the dispatcher belongs to it.
// The returned map is the hub's own; callers run on the hub goroutine and
// must not hold it across events.
func (hub *Hub) members(roomID, dispatcher string) (map[string]struct{}, bool) {
	members, ok := hub.rooms[roomID]
	if !ok {
		return nil, false
	}
	if _, ok := members[dispatcher]; !ok {
		return nil, false
	}
	return members, true
}

// presence tells everyone sharing a room with the user that they went
// online or offline.
func (hub *Hub) presence(username, kind string) {
	audience := make(map[string]struct{})
	for _, members := range hub.rooms {
		if _, ok := members[username]; !ok {
			continue
		}
		for member := range members {
			if member != username {
				audience[member] = struct{}{}
			}
		}
	}
	if len(audience) == 0 {
		return
	}

	out, err := core.NewEvent(core.NotificationEvent, core.NotificationPayload{
		Kind: kind,
		Text: fmt.Sprintf("%s is %s", username, kind),
	})
	if err != nil {
		return
	}
	for member := range audience {
		hub.sendToUser(member, out)
	}
}

// sendToUser queues an event on every connection of the user. A connection
// with a full write stream is dropped rather than allowed to stall the hub.
// Disconnecting mutates the slice being ranged over, so the drops are
// collected first and applied after the loop.
func (hub *Hub) sendToUser(username string, e *core.Event) {
	var full []*Conn
	for _, c := range hub.conns[username] {
		select {
		case c.writeStream <- e:
		default:
			hub.logger.Warn("write stream full, dropping connection", slog.String("user", username))
			full = append(full, c)
		}
	}
	for _, c := range full {
		hub.disconnect(c)
	}
}

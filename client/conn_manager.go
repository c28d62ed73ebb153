package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/putto11262002/chatsync/core"
)

// ConnManager owns one event-channel session: it opens the connection,
// watches it, reconnects with capped exponential backoff when it drops and
// tears everything down on Close.
//
// Sends issued while the connection is down are queued and flushed in their
// original order once the connection is regained. Queued sends are discarded
// with ErrSessionClosed if the session is closed first.
type ConnManager struct {
	dialer Dialer
	creds  Credentials
	policy BackoffPolicy
	logger *slog.Logger

	recv chan *core.Event
	done chan struct{}

	mu        sync.Mutex
	state     core.ConnectionState
	transport Transport
	queue     []*core.Event
	err       error
	ctx       context.Context

	onState []func(core.ConnectionState)
	// onReopen is invoked with a direct send to the fresh transport after a
	// reconnect, before queued sends are flushed and before inbound events
	// resume. The room tracker re-announces membership here.
	onReopen func(send func(*core.Event) error)

	wg        sync.WaitGroup
	closeOnce sync.Once
}

type ConnManagerOption func(*ConnManager)

func WithLogger(l *slog.Logger) ConnManagerOption {
	return func(m *ConnManager) {
		m.logger = l
	}
}

func WithBackoffPolicy(p BackoffPolicy) ConnManagerOption {
	return func(m *ConnManager) {
		m.policy = p
	}
}

func NewConnManager(dialer Dialer, creds Credentials, opts ...ConnManagerOption) *ConnManager {
	m := &ConnManager{
		dialer: dialer,
		creds:  creds,
		policy: DefaultBackoffPolicy(),
		logger: slog.Default(),
		recv:   make(chan *core.Event, 64),
		done:   make(chan struct{}),
		state:  core.Connecting,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.logger = m.logger.With(slog.String("user", creds.Username))
	return m
}

// Receive is the stream of inbound events across all transports the manager
// goes through. It is closed after Close.
func (m *ConnManager) Receive() <-chan *core.Event {
	return m.recv
}

// OnStateChange registers an observer called on every connection state
// transition. Must be called before Open.
func (m *ConnManager) OnStateChange(f func(core.ConnectionState)) {
	m.onState = append(m.onState, f)
}

// OnReopen registers the reconnect hook. Must be called before Open.
func (m *ConnManager) OnReopen(f func(send func(*core.Event) error)) {
	m.onReopen = f
}

// State returns the current connection state.
func (m *ConnManager) State() core.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the terminal error, if any, that closed the session.
func (m *ConnManager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Open dials the event channel and blocks until the handshake completes.
// Transient failures are retried with backoff; the only failure Open
// surfaces is a terminal *core.AuthError or the context being canceled.
func (m *ConnManager) Open(ctx context.Context) error {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if err := m.wait(ctx, m.policy.Backoff(attempt)); err != nil {
				return err
			}
		}

		t, err := m.dialer.Dial(ctx, m.creds)
		if err != nil {
			var authErr *core.AuthError
			if errors.As(err, &authErr) {
				m.fail(err)
				return err
			}
			if ctx.Err() != nil {
				m.fail(ctx.Err())
				return ctx.Err()
			}
			m.logger.Warn(fmt.Sprintf("dial: %v", err), slog.Int("attempt", attempt+1))
			continue
		}

		m.mu.Lock()
		m.transport = t
		m.state = core.Open
		m.mu.Unlock()
		m.notifyState(core.Open)

		m.wg.Add(1)
		go m.pipe(t)
		return nil
	}
}

// Send emits an event on the current transport, or queues it if the
// connection is down. Returns ErrSessionClosed after Close.
func (m *ConnManager) Send(e *core.Event) error {
	m.mu.Lock()
	switch m.state {
	case core.Closed:
		m.mu.Unlock()
		return core.ErrSessionClosed
	case core.Open:
		t := m.transport
		m.mu.Unlock()
		if err := t.Send(e); err != nil {
			// The transport is going away; keep the event for the flush
			// after reconnect. The pipe goroutine notices the drop.
			m.mu.Lock()
			m.queue = append(m.queue, e)
			m.mu.Unlock()
		}
		return nil
	default:
		m.queue = append(m.queue, e)
		m.mu.Unlock()
		return nil
	}
}

// Close releases the session deterministically. Pending reconnect timers are
// canceled, queued sends are discarded with an explicit error and no timer
// or retry fires afterwards.
func (m *ConnManager) Close() {
	t, dropped, first := m.shutdown(nil)
	if first {
		if t != nil {
			t.Close()
		}
		if dropped > 0 {
			m.logger.Error(fmt.Sprintf("discarding %d queued sends: %v", dropped, core.ErrSessionClosed))
		}
		m.notifyState(core.Closed)
	}
	m.closeOnce.Do(func() {
		m.wg.Wait()
		close(m.recv)
	})
}

// pipe forwards inbound events from one transport until it dies, then hands
// over to the reconnect loop.
func (m *ConnManager) pipe(t Transport) {
	defer m.wg.Done()
	for e := range t.Receive() {
		select {
		case m.recv <- e:
		case <-m.done:
			return
		}
	}

	select {
	case <-m.done:
		return
	default:
	}

	m.logger.Info("connection lost")
	m.reconnect()
}

func (m *ConnManager) reconnect() {
	m.mu.Lock()
	if m.state == core.Closed {
		m.mu.Unlock()
		return
	}
	m.state = core.Reconnecting
	m.transport = nil
	ctx := m.ctx
	m.mu.Unlock()
	m.notifyState(core.Reconnecting)

	for attempt := 1; ; attempt++ {
		if err := m.wait(ctx, m.policy.Backoff(attempt)); err != nil {
			return
		}

		t, err := m.dialer.Dial(ctx, m.creds)
		if err != nil {
			var authErr *core.AuthError
			if errors.As(err, &authErr) {
				m.fail(err)
				return
			}
			if ctx.Err() != nil {
				m.fail(ctx.Err())
				return
			}
			m.logger.Warn(fmt.Sprintf("redial: %v", err), slog.Int("attempt", attempt))
			continue
		}

		if m.resume(t) {
			return
		}
	}
}

// resume re-announces membership on the fresh transport, flushes the send
// queue in order and reopens the inbound pipe. Returns false if the
// transport died during the flush, in which case the caller retries.
func (m *ConnManager) resume(t Transport) bool {
	if m.onReopen != nil {
		m.onReopen(t.Send)
	}

	for {
		m.mu.Lock()
		if m.state == core.Closed {
			m.mu.Unlock()
			t.Close()
			return true
		}
		if len(m.queue) == 0 {
			m.transport = t
			m.state = core.Open
			m.mu.Unlock()
			break
		}
		q := m.queue
		m.queue = nil
		m.mu.Unlock()

		for i, e := range q {
			if err := t.Send(e); err != nil {
				m.logger.Warn(fmt.Sprintf("flush: %v", err))
				m.mu.Lock()
				m.queue = append(q[i:], m.queue...)
				m.mu.Unlock()
				t.Close()
				return false
			}
		}
	}

	m.notifyState(core.Open)
	m.logger.Info("connection regained")

	m.wg.Add(1)
	go m.pipe(t)
	return true
}

// fail records a terminal error and closes the session without waiting for
// goroutines; it is safe to call from the pipe goroutine itself.
func (m *ConnManager) fail(err error) {
	t, dropped, first := m.shutdown(err)
	if !first {
		return
	}
	if t != nil {
		t.Close()
	}
	if dropped > 0 {
		m.logger.Error(fmt.Sprintf("discarding %d queued sends: %v", dropped, err))
	}
	m.logger.Error(fmt.Sprintf("session terminated: %v", err))
	m.notifyState(core.Closed)
}

func (m *ConnManager) shutdown(err error) (t Transport, dropped int, first bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == core.Closed {
		return nil, 0, false
	}
	m.state = core.Closed
	m.err = err
	t = m.transport
	m.transport = nil
	dropped = len(m.queue)
	m.queue = nil
	close(m.done)
	return t, dropped, true
}

func (m *ConnManager) notifyState(s core.ConnectionState) {
	for _, f := range m.onState {
		f(s)
	}
}

func (m *ConnManager) wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-m.done:
		return core.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

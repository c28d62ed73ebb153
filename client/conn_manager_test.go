package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/putto11262002/chatsync/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stateRecorder collects connection state transitions.
type stateRecorder struct {
	mu     sync.Mutex
	states []core.ConnectionState
}

func (r *stateRecorder) record(s core.ConnectionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) all() []core.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.ConnectionState, len(r.states))
	copy(out, r.states)
	return out
}

func newTestConnManager(t *testing.T, dialer Dialer) (*ConnManager, *stateRecorder) {
	t.Helper()
	m := NewConnManager(dialer, Credentials{Username: "alice", DisplayName: "Alice"},
		WithBackoffPolicy(fastBackoff()))
	rec := &stateRecorder{}
	m.OnStateChange(rec.record)
	return m, rec
}

func TestConnManagerOpen(t *testing.T) {
	t.Parallel()

	t.Run("opens and delivers inbound events", func(t *testing.T) {
		dialer := &MockDialer{}
		m, rec := newTestConnManager(t, dialer)

		require.NoError(t, m.Open(context.Background()))
		defer m.Close()

		assert.Equal(t, core.Open, m.State())
		assert.Equal(t, []core.ConnectionState{core.Open}, rec.all())

		e := mustEvent(t, core.TypingEvent, core.TypingPayload{RoomID: "r1", Username: "bob"})
		dialer.Current().Push(e)

		select {
		case got := <-m.Receive():
			assert.Equal(t, core.TypingEvent, got.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for inbound event")
		}
	})

	t.Run("retries transient dial failures", func(t *testing.T) {
		dialer := &MockDialer{}
		dialer.Script(&core.TransportError{Err: errors.New("refused")},
			&core.TransportError{Err: errors.New("refused")}, nil)
		m, _ := newTestConnManager(t, dialer)

		require.NoError(t, m.Open(context.Background()))
		defer m.Close()

		assert.Equal(t, 3, dialer.Dials())
		assert.Equal(t, core.Open, m.State())
	})

	t.Run("auth failure is terminal", func(t *testing.T) {
		dialer := &MockDialer{}
		dialer.Script(&core.AuthError{Reason: "bad token"})
		m, _ := newTestConnManager(t, dialer)

		err := m.Open(context.Background())
		var authErr *core.AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, core.Closed, m.State())
		// no retry after an auth failure
		assert.Equal(t, 1, dialer.Dials())
	})
}

func TestConnManagerReconnect(t *testing.T) {
	t.Parallel()

	waitState := func(t *testing.T, m *ConnManager, want core.ConnectionState) {
		t.Helper()
		require.Eventually(t, func() bool {
			return m.State() == want
		}, time.Second, time.Millisecond)
	}

	t.Run("redials with backoff after drop", func(t *testing.T) {
		dialer := &MockDialer{}
		m, rec := newTestConnManager(t, dialer)
		require.NoError(t, m.Open(context.Background()))
		defer m.Close()

		dialer.Transport(0).Drop()
		waitState(t, m, core.Open)

		require.GreaterOrEqual(t, dialer.Dials(), 2)
		states := rec.all()
		assert.Contains(t, states, core.Reconnecting)
		assert.Equal(t, core.Open, states[len(states)-1])
	})

	t.Run("queues sends while reconnecting and flushes in order", func(t *testing.T) {
		dialer := &MockDialer{}
		m, _ := newTestConnManager(t, dialer)
		m.OnReopen(func(send func(*core.Event) error) {
			send(mustEvent(t, core.JoinEvent, core.JoinPayload{RoomID: "r1"}))
		})
		require.NoError(t, m.Open(context.Background()))
		defer m.Close()

		dialer.Hold()
		dialer.Transport(0).Drop()
		waitState(t, m, core.Reconnecting)

		first := mustEvent(t, core.MessageEvent, core.MessagePayload{RoomID: "r1", Body: "one"})
		second := mustEvent(t, core.MessageEvent, core.MessagePayload{RoomID: "r1", Body: "two"})
		require.NoError(t, m.Send(first))
		require.NoError(t, m.Send(second))

		dialer.Release()
		waitState(t, m, core.Open)

		fresh := dialer.Current()
		types := fresh.SentTypes()
		// membership is re-announced before the queue is flushed
		require.Equal(t, []string{core.JoinEvent, core.MessageEvent, core.MessageEvent}, types)
		sent := fresh.Sent()
		assert.Equal(t, "one", decodePayload[core.MessagePayload](t, sent[1]).Body)
		assert.Equal(t, "two", decodePayload[core.MessagePayload](t, sent[2]).Body)
	})

	t.Run("auth failure during reconnect terminates the session", func(t *testing.T) {
		dialer := &MockDialer{}
		dialer.Script(nil, &core.AuthError{Reason: "expired"})
		m, _ := newTestConnManager(t, dialer)
		require.NoError(t, m.Open(context.Background()))

		dialer.Transport(0).Drop()
		waitState(t, m, core.Closed)

		var authErr *core.AuthError
		assert.ErrorAs(t, m.Err(), &authErr)
		assert.Equal(t, 2, dialer.Dials())
		m.Close()
	})
}

func TestConnManagerClose(t *testing.T) {
	t.Parallel()

	t.Run("send after close fails", func(t *testing.T) {
		dialer := &MockDialer{}
		m, _ := newTestConnManager(t, dialer)
		require.NoError(t, m.Open(context.Background()))

		m.Close()
		err := m.Send(mustEvent(t, core.TypingEvent, core.TypingPayload{RoomID: "r1"}))
		assert.ErrorIs(t, err, core.ErrSessionClosed)
	})

	t.Run("close cancels reconnecting and discards the queue", func(t *testing.T) {
		dialer := &MockDialer{}
		// every redial fails so the manager stays in Reconnecting
		dialer.Script(nil)
		for i := 0; i < 1000; i++ {
			dialer.Script(&core.TransportError{Err: errors.New("refused")})
		}
		m, _ := newTestConnManager(t, dialer)
		require.NoError(t, m.Open(context.Background()))

		dialer.Transport(0).Drop()
		require.Eventually(t, func() bool {
			return m.State() == core.Reconnecting
		}, time.Second, time.Millisecond)

		require.NoError(t, m.Send(mustEvent(t, core.MessageEvent, core.MessagePayload{RoomID: "r1", Body: "hi"})))
		m.Close()

		assert.Equal(t, core.Closed, m.State())
		dials := dialer.Dials()
		// no retry fires after close
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, dials, dialer.Dials())

		// the receive stream is closed
		_, ok := <-m.Receive()
		assert.False(t, ok)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		dialer := &MockDialer{}
		m, _ := newTestConnManager(t, dialer)
		require.NoError(t, m.Open(context.Background()))
		m.Close()
		m.Close()
	})
}

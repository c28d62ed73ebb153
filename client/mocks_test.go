package client

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/putto11262002/chatsync/core"
)

// MockTransport is a scriptable in-memory event channel. The test side
// pushes inbound events with Push and inspects outbound ones with Sent;
// Drop simulates a transport-level failure.
type MockTransport struct {
	mu      sync.Mutex
	sent    []*core.Event
	recv    chan *core.Event
	closed  bool
	sendErr error
}

func NewMockTransport() *MockTransport {
	return &MockTransport{
		recv: make(chan *core.Event, 64),
	}
}

func (t *MockTransport) Send(e *core.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, e)
	return nil
}

func (t *MockTransport) Receive() <-chan *core.Event {
	return t.recv
}

func (t *MockTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.recv)
	}
	return nil
}

// Push delivers an inbound event to the client side.
func (t *MockTransport) Push(e *core.Event) {
	t.recv <- e
}

// Drop simulates the connection dying out from under the client.
func (t *MockTransport) Drop() {
	t.Close()
}

func (t *MockTransport) Sent() []*core.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*core.Event, len(t.sent))
	copy(out, t.sent)
	return out
}

func (t *MockTransport) SentTypes() []string {
	sent := t.Sent()
	types := make([]string, 0, len(sent))
	for _, e := range sent {
		types = append(types, e.Type)
	}
	return types
}

// MockDialer hands out MockTransports, optionally failing scripted
// attempts first.
type MockDialer struct {
	mu sync.Mutex
	// script is consumed front to back; a nil entry dials successfully.
	script     []error
	transports []*MockTransport
	dials      int
	gate       chan struct{}
}

func (d *MockDialer) Script(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.script = append(d.script, errs...)
}

// Hold blocks every subsequent Dial until Release, so a test can observe
// the reconnecting state for as long as it needs.
func (d *MockDialer) Hold() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gate = make(chan struct{})
}

func (d *MockDialer) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gate != nil {
		close(d.gate)
		d.gate = nil
	}
}

func (d *MockDialer) Dial(ctx context.Context, creds Credentials) (Transport, error) {
	d.mu.Lock()
	d.dials++
	gate := d.gate
	var err error
	if len(d.script) > 0 {
		err = d.script[0]
		d.script = d.script[1:]
	}
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	t := NewMockTransport()
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *MockDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Transport returns the i-th transport handed out.
func (d *MockDialer) Transport(i int) *MockTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.transports) {
		return nil
	}
	return d.transports[i]
}

func (d *MockDialer) Current() *MockTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

func mustEvent(t *testing.T, eventType string, payload interface{}) *core.Event {
	t.Helper()
	e, err := core.NewEvent(eventType, payload)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func decodePayload[T any](t *testing.T, e *core.Event) T {
	t.Helper()
	var p T
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		t.Fatal(err)
	}
	return p
}

// fastBackoff keeps reconnect tests quick.
func fastBackoff() BackoffPolicy {
	return BackoffPolicy{Initial: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// eventSink records outbound events for components wired with a bare emit
// function instead of a full transport.
type eventSink struct {
	mu     sync.Mutex
	events []*core.Event
}

func (s *eventSink) emit(e *core.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *eventSink) all() []*core.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*core.Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *eventSink) types() []string {
	events := s.all()
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	return types
}

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/models"
)

// fakeConn is an in-memory Conn for session tests.
type fakeConn struct {
	mu      sync.Mutex
	inbound chan []byte
	written [][]byte
	pings   int

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case raw := <-c.inbound:
		return websocket.TextMessage, raw, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) WriteControl(messageType int, _ []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if messageType == websocket.PingMessage {
		c.pings++
	}
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetPongHandler(func(string) error) {}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) frames(t *testing.T) []Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Envelope, 0, len(c.written))
	for _, raw := range c.written {
		var env Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		out = append(out, env)
	}
	return out
}

// fakeDialer hands out conns in order, erroring while failures remain.
type fakeDialer struct {
	mu       sync.Mutex
	failures int
	conns    []*fakeConn
	dials    int
}

func (d *fakeDialer) DialContext(context.Context, string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("dial refused")
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) latest() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func newTestSession(t *testing.T, dialer Dialer, reg *Registry) *Session {
	t.Helper()
	session, err := NewSession(SessionOptions{
		URL:          "ws://chat.test/socket",
		Dialer:       dialer,
		Registry:     reg,
		PingInterval: time.Hour,
	})
	require.NoError(t, err)
	return session
}

func TestSessionJoinLeaveEmit(t *testing.T) {
	dialer := &fakeDialer{}
	session := newTestSession(t, dialer, NewRegistry())

	require.NoError(t, session.Dial(context.Background()))
	defer session.Close()

	require.NoError(t, session.JoinRoom("c1"))
	require.NoError(t, session.Emit(EventTyping, TypingPayload{ConversationID: "c1", IsTyping: true}))
	require.NoError(t, session.LeaveRoom("c1"))

	frames := dialer.latest().frames(t)
	require.Len(t, frames, 3)
	assert.Equal(t, EventJoinConversation, frames[0].Event)
	assert.Equal(t, EventTyping, frames[1].Event)
	assert.Equal(t, EventLeaveConversation, frames[2].Event)
}

func TestSessionDialIsIdempotent(t *testing.T) {
	dialer := &fakeDialer{}
	session := newTestSession(t, dialer, NewRegistry())
	defer session.Close()

	require.NoError(t, session.Dial(context.Background()))
	require.NoError(t, session.Dial(context.Background()))
	assert.Equal(t, 1, dialer.dials)
	assert.True(t, session.Connected())
	assert.NotEmpty(t, session.SessionID())
}

func TestSessionDeliversInboundEvents(t *testing.T) {
	dialer := &fakeDialer{}
	reg := NewRegistry()

	msgs := make(chan models.Message, 1)
	reg.Bind(Handlers{OnNewMessage: func(m models.Message) { msgs <- m }})

	session := newTestSession(t, dialer, reg)
	require.NoError(t, session.Dial(context.Background()))
	defer session.Close()

	raw, err := EncodeEnvelope(EventNewMessage, models.Message{ID: "m9", Content: "yo"})
	require.NoError(t, err)
	dialer.latest().inbound <- raw

	select {
	case got := <-msgs:
		assert.Equal(t, "m9", got.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound dispatch")
	}
}

func TestSessionSurfacesConnectionLoss(t *testing.T) {
	dialer := &fakeDialer{}
	reg := NewRegistry()

	errs := make(chan error, 1)
	reg.Bind(Handlers{OnError: func(err error) { errs <- err }})

	session := newTestSession(t, dialer, reg)
	require.NoError(t, session.Dial(context.Background()))

	done := session.Done()
	dialer.latest().Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Done was not closed after connection loss")
	}
	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("OnError was not invoked")
	}
	assert.False(t, session.Connected())
}

func TestSessionCloseIsTerminal(t *testing.T) {
	dialer := &fakeDialer{}
	session := newTestSession(t, dialer, NewRegistry())

	require.NoError(t, session.Dial(context.Background()))
	require.NoError(t, session.Close())

	assert.ErrorIs(t, session.Emit(EventTyping, nil), ErrSessionClosed)
	assert.ErrorIs(t, session.Dial(context.Background()), ErrSessionClosed)
}

func TestEmitBeforeDialFails(t *testing.T) {
	session := newTestSession(t, &fakeDialer{}, NewRegistry())
	assert.ErrorIs(t, session.JoinRoom("c1"), ErrNotConnected)
}

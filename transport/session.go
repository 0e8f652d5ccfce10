package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Conn is the subset of *websocket.Conn the session needs. Tests substitute
// an in-memory implementation.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Dialer opens a live connection to the chat server.
type Dialer interface {
	DialContext(ctx context.Context, url string) (Conn, error)
}

type wsDialer struct {
	dialer *websocket.Dialer
}

// NewWebsocketDialer builds a websocket dialer. The cookie jar carries the
// ambient session credentials; share it with the REST client so both channels
// present the same session.
func NewWebsocketDialer(jar http.CookieJar) Dialer {
	return wsDialer{dialer: &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 15 * time.Second,
		Jar:              jar,
	}}
}

func (d wsDialer) DialContext(ctx context.Context, url string) (Conn, error) {
	conn, _, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}

// SessionOptions configures a Session.
type SessionOptions struct {
	// URL is the live channel endpoint, e.g. wss://host/socket.
	URL string
	// Dialer opens connections; defaults to NewWebsocketDialer(nil).
	Dialer Dialer
	// Registry receives decoded inbound events.
	Registry *Registry

	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
}

// Session owns at most one live connection to the chat server and provides
// room-scoped join/leave plus generic event emission. All outbound operations
// are fire-and-forget writes; no acknowledgment is awaited.
type Session struct {
	opts SessionOptions

	mu        sync.Mutex
	conn      Conn
	done      chan struct{}
	sessionID string
	lastErr   error
	closed    bool

	writeMu sync.Mutex
}

// NewSession creates a session; no connection is opened until Dial.
func NewSession(opts SessionOptions) (*Session, error) {
	if opts.URL == "" {
		return nil, errors.New("transport: session URL is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("transport: registry is required")
	}
	if opts.Dialer == nil {
		opts.Dialer = NewWebsocketDialer(nil)
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.PongWait <= 0 {
		opts.PongWait = DefaultPongWait
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = DefaultWriteWait
	}
	return &Session{opts: opts}, nil
}

// Dial opens the live connection. Calling Dial on an already-open session is
// a no-op.
func (s *Session) Dial(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.conn != nil {
		return nil
	}

	conn, err := s.opts.Dialer.DialContext(ctx, s.opts.URL)
	if err != nil {
		s.lastErr = err
		return err
	}

	_ = conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	done := make(chan struct{})
	s.conn = conn
	s.done = done
	s.lastErr = nil
	s.sessionID = uuid.NewString()
	log.Printf("transport: session %s connected to %s", s.sessionID, s.opts.URL)

	go s.readLoop(conn, done)
	go s.pingLoop(conn, done)
	return nil
}

// Connected reports whether a live connection is currently open.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// SessionID identifies the current connection instance, "" when disconnected.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Done returns a channel closed when the current connection ends. With no
// connection open it returns an already-closed channel.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.done
}

// Err returns the error that ended the last connection, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// JoinRoom signals the server to route the conversation's events here.
func (s *Session) JoinRoom(conversationID string) error {
	return s.Emit(EventJoinConversation, JoinPayload{ConversationID: conversationID})
}

// LeaveRoom mirrors JoinRoom; call it before switching conversations to
// avoid receiving stale-room events.
func (s *Session) LeaveRoom(conversationID string) error {
	return s.Emit(EventLeaveConversation, JoinPayload{ConversationID: conversationID})
}

// Emit writes one event frame on the live channel.
func (s *Session) Emit(event string, payload any) error {
	raw, err := EncodeEnvelope(event, payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	conn := s.conn
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return ErrSessionClosed
	}
	if conn == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	return nil
}

// Close terminates the connection and marks the session unusable. After
// Close no further events are deliverable.
func (s *Session) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.closed = true
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(s.opts.WriteWait),
	)
	return conn.Close()
}

func (s *Session) readLoop(conn Conn, done chan struct{}) {
	defer close(done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.teardown(conn, err)
			return
		}
		s.opts.Registry.Dispatch(raw)
	}
}

func (s *Session) pingLoop(conn Conn, done chan struct{}) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.opts.WriteWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Session) teardown(conn Conn, err error) {
	s.mu.Lock()
	intentional := s.closed
	if s.conn == conn {
		s.conn = nil
		s.sessionID = ""
		s.lastErr = err
	}
	s.mu.Unlock()

	_ = conn.Close()
	if intentional || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return
	}
	log.Printf("transport: connection lost: %v", err)
	s.opts.Registry.dispatchError(fmt.Errorf("connection lost: %w", err))
}

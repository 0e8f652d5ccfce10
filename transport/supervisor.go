package transport

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultReconnectInitialInterval = 500 * time.Millisecond
	defaultReconnectMaxInterval     = 30 * time.Second
	defaultReconnectMaxElapsed      = 5 * time.Minute
)

// SupervisorOptions configures reconnection behavior.
type SupervisorOptions struct {
	Session  *Session
	Registry *Registry

	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxElapsedTime bounds the total time spent redialing after one drop;
	// once exceeded the supervisor gives up and reports OnError.
	MaxElapsedTime time.Duration
}

// Supervisor wraps a Session with automatic reconnection: when the live
// connection drops it redials with exponential backoff and re-joins the
// current room, surfacing OnReconnecting/OnReconnected along the way.
type Supervisor struct {
	opts SupervisorOptions

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	room     string
	closed   bool
	watching bool

	wg sync.WaitGroup
}

// NewSupervisor creates a supervisor around an existing session.
func NewSupervisor(opts SupervisorOptions) (*Supervisor, error) {
	if opts.Session == nil {
		return nil, errors.New("transport: supervisor requires a session")
	}
	if opts.Registry == nil {
		return nil, errors.New("transport: supervisor requires a registry")
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = defaultReconnectInitialInterval
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = defaultReconnectMaxInterval
	}
	if opts.MaxElapsedTime <= 0 {
		opts.MaxElapsedTime = defaultReconnectMaxElapsed
	}
	return &Supervisor{opts: opts}, nil
}

// Connect dials the session and starts supervising it. Supervision begins
// even when the first dial fails: the watch loop keeps redialing in the
// background while the caller degrades gracefully.
func (sv *Supervisor) Connect(ctx context.Context) error {
	sv.mu.Lock()
	if sv.closed {
		sv.mu.Unlock()
		return ErrSessionClosed
	}
	if sv.cancel == nil {
		sv.ctx, sv.cancel = context.WithCancel(context.Background())
	}
	sv.mu.Unlock()

	err := sv.opts.Session.Dial(ctx)

	sv.mu.Lock()
	watching := sv.watching
	sv.watching = true
	sv.mu.Unlock()
	if !watching {
		sv.wg.Add(1)
		go sv.watch()
	}
	return err
}

// JoinRoom joins the room and records it for re-join after a reconnect.
func (sv *Supervisor) JoinRoom(conversationID string) error {
	sv.mu.Lock()
	sv.room = conversationID
	sv.mu.Unlock()
	return sv.opts.Session.JoinRoom(conversationID)
}

// LeaveRoom leaves the room and clears the re-join target.
func (sv *Supervisor) LeaveRoom(conversationID string) error {
	sv.mu.Lock()
	if sv.room == conversationID {
		sv.room = ""
	}
	sv.mu.Unlock()
	return sv.opts.Session.LeaveRoom(conversationID)
}

// Emit forwards to the underlying session.
func (sv *Supervisor) Emit(event string, payload any) error {
	return sv.opts.Session.Emit(event, payload)
}

// Close stops supervision and closes the session.
func (sv *Supervisor) Close() error {
	sv.mu.Lock()
	sv.closed = true
	cancel := sv.cancel
	sv.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := sv.opts.Session.Close()
	sv.wg.Wait()
	return err
}

func (sv *Supervisor) isClosed() bool {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.closed
}

func (sv *Supervisor) currentRoom() string {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.room
}

func (sv *Supervisor) watch() {
	defer sv.wg.Done()

	for {
		select {
		case <-sv.ctx.Done():
			return
		case <-sv.opts.Session.Done():
		}
		if sv.isClosed() {
			return
		}

		sv.opts.Registry.dispatchReconnecting(0)

		attempt := 0
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = sv.opts.InitialInterval
		bo.MaxInterval = sv.opts.MaxInterval
		bo.MaxElapsedTime = sv.opts.MaxElapsedTime

		err := backoff.RetryNotify(
			func() error {
				if sv.isClosed() {
					return backoff.Permanent(ErrSessionClosed)
				}
				return sv.opts.Session.Dial(sv.ctx)
			},
			backoff.WithContext(bo, sv.ctx),
			func(err error, next time.Duration) {
				attempt++
				log.Printf("transport: reconnect attempt %d failed, next in %s: %v", attempt, next, err)
				sv.opts.Registry.dispatchReconnecting(attempt)
			},
		)
		if err != nil {
			if !sv.isClosed() && !errors.Is(err, context.Canceled) {
				sv.opts.Registry.dispatchError(err)
			}
			return
		}

		if room := sv.currentRoom(); room != "" {
			if err := sv.opts.Session.JoinRoom(room); err != nil {
				log.Printf("transport: re-join %s after reconnect failed: %v", room, err)
			}
		}
		sv.opts.Registry.dispatchReconnected()
	}
}

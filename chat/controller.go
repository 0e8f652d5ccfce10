// Package chat drives one conversation's lifecycle from mount to unmount:
// it joins the room, merges the fetched history with live pushes, forwards
// typing signals and read receipts, and exposes the result as immutable
// snapshots.
package chat

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"chatsync/history"
	"chatsync/models"
	"chatsync/timeline"
	"chatsync/transport"
)

// State is the controller's lifecycle state.
type State string

const (
	StateLoading   State = "loading"
	StateReady     State = "ready"
	StateFailed    State = "failed"
	StateSending   State = "sending"
	StateUnmounted State = "unmounted"
)

var (
	// ErrNotMounted indicates the controller was never mounted or already
	// unmounted.
	ErrNotMounted = errors.New("chat: controller not mounted")
	// ErrNotReady indicates the operation needs the Ready state, e.g. a
	// send while another send is still in flight.
	ErrNotReady = errors.New("chat: conversation not ready")
)

// Transport is the live-channel surface the controller drives. Only the
// controller calls Connect and Close.
type Transport interface {
	Connect(ctx context.Context) error
	JoinRoom(conversationID string) error
	LeaveRoom(conversationID string) error
	Emit(event string, payload any) error
	Close() error
}

// HistoryService is the request/response surface for persisted messages.
type HistoryService interface {
	FetchPage(ctx context.Context, conversationID string, page, limit int) (history.Page, error)
	SendMessage(ctx context.Context, send history.SendRequest) (models.Message, error)
}

// Capabilities parameterizes view variants; it gates what the snapshot
// advertises, never controller behavior.
type Capabilities struct {
	CanHire bool
}

// Snapshot is one immutable view of the conversation, delivered to the
// embedding UI on every change.
type Snapshot struct {
	State          State
	ConversationID string
	Messages       []models.Message
	Counterpart    *models.Participant
	Pagination     models.PaginationState
	TypingUsers    []string
	LastError      string
	Reconnecting   bool
	Capabilities   Capabilities
}

// ControllerOptions configures a Controller.
type ControllerOptions struct {
	Transport Transport
	Registry  *transport.Registry
	History   HistoryService

	// Identity is the local user, read-only context from the embedding app.
	Identity models.Identity
	// ConversationID selects the initial room.
	ConversationID string
	// Counterpart, when the server supplies the participant explicitly,
	// takes precedence over first-foreign-sender derivation.
	Counterpart *models.Participant

	PageLimit       int
	TypingDebounce  time.Duration
	RemoteTypingTTL time.Duration
	Capabilities    Capabilities

	// Notify receives a snapshot after every observable change. Called
	// from controller goroutines; implementations must not block.
	Notify func(Snapshot)
}

// Controller composes the transport session, history fetcher, timeline,
// typing coordinator and read-receipt tracker for one mounted chat view.
type Controller struct {
	opts ControllerOptions

	ctx context.Context

	mu             sync.Mutex
	state          State
	conversationID string
	epoch          uint64
	tl             *timeline.Timeline
	typing         *TypingCoordinator
	receipts       *ReadReceiptTracker
	pagination     models.PaginationState
	counterpart    *models.Participant
	lastErr        string
	reconnecting   bool
}

// NewController validates options and builds an unmounted controller.
func NewController(opts ControllerOptions) (*Controller, error) {
	if opts.Transport == nil {
		return nil, errors.New("chat: transport is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("chat: registry is required")
	}
	if opts.History == nil {
		return nil, errors.New("chat: history service is required")
	}
	if opts.Identity.ID == "" {
		return nil, errors.New("chat: local identity is required")
	}
	if opts.ConversationID == "" {
		return nil, errors.New("chat: conversation ID is required")
	}
	if opts.PageLimit <= 0 {
		opts.PageLimit = history.DefaultPageLimit
	}

	c := &Controller{
		opts:           opts,
		conversationID: opts.ConversationID,
		tl:             timeline.New(),
		counterpart:    opts.Counterpart,
	}
	c.receipts = NewReadReceiptTracker(opts.Identity.ID, func(conversationID, messageID string) {
		if err := opts.Transport.Emit(transport.EventMarkAsRead, transport.MarkAsReadPayload{
			ConversationID: conversationID,
			MessageID:      messageID,
		}); err != nil && !errors.Is(err, transport.ErrNotConnected) {
			log.Printf("chat: mark_as_read emit failed: %v", err)
		}
	})
	return c, nil
}

// Mount connects the live channel, joins the room and kicks off the first
// history fetch. The controller enters Loading immediately; fetch
// resolution moves it to Ready or Failed.
func (c *Controller) Mount(ctx context.Context) error {
	c.mu.Lock()
	if c.state != "" {
		c.mu.Unlock()
		return errors.New("chat: controller already mounted")
	}
	c.ctx = ctx
	c.state = StateLoading
	c.typing = c.newTyping(c.conversationID)
	conversationID := c.conversationID
	epoch := c.epoch
	c.mu.Unlock()

	c.opts.Registry.Bind(transport.Handlers{
		OnNewMessage:        c.handleNewMessage,
		OnUserTyping:        c.handleUserTyping,
		OnMessageDelivered:  c.handleMessageDelivered,
		OnMessagesDelivered: c.handleMessagesDelivered,
		OnMessagesRead:      c.handleMessagesRead,
		OnError:             c.handleTransportError,
		OnReconnecting:      c.handleReconnecting,
		OnReconnected:       c.handleReconnected,
	})

	// A dead live channel degrades to history-only; it never blocks the
	// view (the supervisor keeps retrying in the background). The join goes
	// out regardless so the supervisor records the room and re-joins it
	// once a redial lands.
	if err := c.opts.Transport.Connect(ctx); err != nil {
		log.Printf("chat: live channel connect failed: %v", err)
		c.setErr(err)
	}
	if err := c.opts.Transport.JoinRoom(conversationID); err != nil && !errors.Is(err, transport.ErrNotConnected) {
		log.Printf("chat: join %s failed: %v", conversationID, err)
	}

	go c.fetchInitial(ctx, conversationID, epoch)
	c.notify()
	return nil
}

// InputChanged reports local keystroke activity to the typing coordinator.
func (c *Controller) InputChanged() {
	c.mu.Lock()
	typing := c.typing
	c.mu.Unlock()
	if typing != nil {
		typing.InputChanged()
	}
}

// Send submits the drafted message. The controller passes through Sending
// and returns to Ready whether or not the POST succeeds; a failure surfaces
// on the snapshot and the caller keeps the draft for resubmission.
func (c *Controller) Send(content string) error {
	if content == "" {
		return errors.New("chat: message content is empty")
	}

	c.mu.Lock()
	if c.state == "" || c.state == StateUnmounted {
		c.mu.Unlock()
		return ErrNotMounted
	}
	if c.state != StateReady {
		c.mu.Unlock()
		return ErrNotReady
	}
	c.state = StateSending
	conversationID := c.conversationID
	epoch := c.epoch
	typing := c.typing
	ctx := c.ctx
	c.mu.Unlock()

	c.notify()
	go func() {
		msg, err := c.opts.History.SendMessage(ctx, history.SendRequest{
			ConversationID: conversationID,
			Content:        content,
			MessageType:    models.MessageTypeText,
		})

		c.mu.Lock()
		if c.epoch != epoch || c.state == StateUnmounted {
			c.mu.Unlock()
			return
		}
		c.state = StateReady
		if err != nil {
			c.lastErr = err.Error()
			c.mu.Unlock()
			c.notify()
			return
		}
		c.lastErr = ""
		c.tl.Append(msg) // live echo of the same id dedups against this
		c.mu.Unlock()

		typing.MessageSent()
		c.notify()
	}()
	return nil
}

// LoadMore fetches the next older page and merges it before the loaded
// messages. Failures with messages on screen surface as a banner only.
func (c *Controller) LoadMore() error {
	c.mu.Lock()
	if c.state == "" || c.state == StateUnmounted {
		c.mu.Unlock()
		return ErrNotMounted
	}
	if !c.pagination.HasMore {
		c.mu.Unlock()
		return nil
	}
	nextPage := c.pagination.Page + 1
	conversationID := c.conversationID
	epoch := c.epoch
	ctx := c.ctx
	c.mu.Unlock()

	go func() {
		page, err := c.opts.History.FetchPage(ctx, conversationID, nextPage, c.opts.PageLimit)

		c.mu.Lock()
		if c.epoch != epoch || c.state == StateUnmounted {
			c.mu.Unlock()
			return
		}
		if err != nil {
			c.lastErr = err.Error()
			c.mu.Unlock()
			c.notify()
			return
		}
		c.lastErr = ""
		c.tl.Prepend(page.Messages)
		c.pagination = page.Pagination
		c.deriveCounterpartLocked()
		c.mu.Unlock()
		c.notify()
	}()
	return nil
}

// SwitchConversation leaves the current room, resets per-conversation
// state and re-enters Loading for the new room. An in-flight fetch for the
// old conversation is discarded when it resolves.
func (c *Controller) SwitchConversation(conversationID string) error {
	if conversationID == "" {
		return errors.New("chat: conversation ID is required")
	}

	c.mu.Lock()
	if c.state == "" || c.state == StateUnmounted {
		c.mu.Unlock()
		return ErrNotMounted
	}
	if conversationID == c.conversationID {
		c.mu.Unlock()
		return nil
	}
	old := c.conversationID
	oldTyping := c.typing
	c.epoch++
	epoch := c.epoch
	c.conversationID = conversationID
	c.state = StateLoading
	c.lastErr = ""
	c.pagination = models.PaginationState{}
	c.counterpart = nil
	c.tl.Reset()
	c.receipts.Reset()
	c.typing = c.newTyping(conversationID)
	ctx := c.ctx
	c.mu.Unlock()

	oldTyping.Stop()
	if err := c.opts.Transport.LeaveRoom(old); err != nil {
		log.Printf("chat: leave %s failed: %v", old, err)
	}
	if err := c.opts.Transport.JoinRoom(conversationID); err != nil {
		log.Printf("chat: join %s failed: %v", conversationID, err)
	}

	go c.fetchInitial(ctx, conversationID, epoch)
	c.notify()
	return nil
}

// Unmount leaves the room, closes the live channel and cancels pending
// timers. Terminal: the controller cannot be remounted.
func (c *Controller) Unmount() {
	c.mu.Lock()
	if c.state == "" || c.state == StateUnmounted {
		c.mu.Unlock()
		return
	}
	c.epoch++
	c.state = StateUnmounted
	conversationID := c.conversationID
	typing := c.typing
	c.mu.Unlock()

	typing.Stop()
	if err := c.opts.Transport.LeaveRoom(conversationID); err != nil && !errors.Is(err, transport.ErrNotConnected) {
		log.Printf("chat: leave %s failed: %v", conversationID, err)
	}
	if err := c.opts.Transport.Close(); err != nil {
		log.Printf("chat: close live channel failed: %v", err)
	}
	c.notify()
}

// Snapshot returns the current view of the conversation.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:          c.state,
		ConversationID: c.conversationID,
		Messages:       c.tl.Messages(),
		Pagination:     c.pagination,
		LastError:      c.lastErr,
		Reconnecting:   c.reconnecting,
		Capabilities:   c.opts.Capabilities,
	}
	if c.counterpart != nil {
		counterpart := *c.counterpart
		snap.Counterpart = &counterpart
	}
	if c.typing != nil {
		snap.TypingUsers = c.typing.TypingUsers()
	}
	return snap
}

func (c *Controller) fetchInitial(ctx context.Context, conversationID string, epoch uint64) {
	page, err := c.opts.History.FetchPage(ctx, conversationID, 1, c.opts.PageLimit)

	c.mu.Lock()
	if c.epoch != epoch || c.state == StateUnmounted {
		// Stale resolution: the view moved on to another conversation.
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.lastErr = err.Error()
		// Live pushes that landed during Loading keep the view usable;
		// only an empty timeline blocks on Failed.
		if c.tl.Len() == 0 {
			c.state = StateFailed
		} else {
			c.state = StateReady
		}
		c.mu.Unlock()
		c.notify()
		return
	}

	c.tl.Seed(page.Messages)
	c.pagination = page.Pagination
	c.state = StateReady
	c.lastErr = ""
	c.deriveCounterpartLocked()
	last, ok := c.tl.Last()
	c.mu.Unlock()

	if ok {
		c.receipts.Observe(conversationID, last)
	}
	c.notify()
}

func (c *Controller) handleNewMessage(msg models.Message) {
	c.mu.Lock()
	if c.state == "" || c.state == StateUnmounted {
		c.mu.Unlock()
		return
	}
	// The server only routes joined rooms, but a frame racing a room
	// switch can still carry the old conversation.
	if msg.ConversationID != "" && msg.ConversationID != c.conversationID {
		c.mu.Unlock()
		return
	}
	conversationID := c.conversationID
	typing := c.typing
	appended := c.tl.Append(msg)
	if appended {
		c.deriveCounterpartLocked()
	}
	last, ok := c.tl.Last()
	c.mu.Unlock()

	if !appended {
		return
	}
	if sender := msg.SenderID(); sender != "" {
		typing.SetRemoteTyping(sender, false)
	}
	if ok {
		c.receipts.Observe(conversationID, last)
	}
	c.notify()
}

func (c *Controller) handleUserTyping(payload transport.UserTypingPayload) {
	c.mu.Lock()
	typing := c.typing
	c.mu.Unlock()
	if typing != nil {
		typing.SetRemoteTyping(payload.UserID, payload.IsTyping)
	}
}

func (c *Controller) handleMessageDelivered(payload transport.MessageDeliveredPayload) {
	c.mu.Lock()
	if c.state == "" || c.state == StateUnmounted {
		c.mu.Unlock()
		return
	}
	patched := c.tl.PatchDelivered(payload.MessageID, payload.DeliveredAt)
	c.mu.Unlock()

	if patched {
		c.notify()
	}
}

func (c *Controller) handleMessagesDelivered(payload transport.MessagesDeliveredPayload) {
	c.mu.Lock()
	if c.state == "" || c.state == StateUnmounted || payload.ConversationID != c.conversationID {
		c.mu.Unlock()
		return
	}
	// The bulk acknowledgment carries only a count; everything of ours
	// still pending counts as delivered now.
	patched := c.tl.PatchDeliveredFrom(c.opts.Identity.ID, time.Now())
	c.mu.Unlock()

	if patched > 0 {
		c.notify()
	}
}

func (c *Controller) handleMessagesRead(payload transport.MessagesReadPayload) {
	c.mu.Lock()
	if c.state == "" || c.state == StateUnmounted || payload.ConversationID != c.conversationID {
		c.mu.Unlock()
		return
	}
	patched := c.tl.PatchRead(payload.MessageIDs, payload.ReadAt)
	c.mu.Unlock()

	if patched > 0 {
		c.notify()
	}
}

func (c *Controller) handleTransportError(err error) {
	log.Printf("chat: live channel error: %v", err)
	c.setErr(err)
}

func (c *Controller) handleReconnecting(int) {
	c.mu.Lock()
	changed := !c.reconnecting
	c.reconnecting = true
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

func (c *Controller) handleReconnected() {
	c.mu.Lock()
	c.reconnecting = false
	c.lastErr = ""
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) setErr(err error) {
	c.mu.Lock()
	c.lastErr = err.Error()
	c.mu.Unlock()
	c.notify()
}

// deriveCounterpartLocked infers the counterpart from the first message not
// sent by the local user. Derive-once: an established counterpart is never
// replaced during the view session.
func (c *Controller) deriveCounterpartLocked() {
	if c.counterpart != nil {
		return
	}
	if p, ok := c.tl.CounterpartOf(c.opts.Identity.ID); ok {
		c.counterpart = &p
	}
}

func (c *Controller) newTyping(conversationID string) *TypingCoordinator {
	return NewTypingCoordinator(TypingOptions{
		LocalUserID: c.opts.Identity.ID,
		Debounce:    c.opts.TypingDebounce,
		RemoteTTL:   c.opts.RemoteTypingTTL,
		Broadcast: func(isTyping bool) {
			err := c.opts.Transport.Emit(transport.EventTyping, transport.TypingPayload{
				ConversationID: conversationID,
				IsTyping:       isTyping,
			})
			if err != nil && !errors.Is(err, transport.ErrNotConnected) {
				log.Printf("chat: typing emit failed: %v", err)
			}
		},
		OnRemoteChange: c.notify,
	})
}

func (c *Controller) notify() {
	if c.opts.Notify == nil {
		return
	}
	c.mu.Lock()
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.opts.Notify(snap)
}

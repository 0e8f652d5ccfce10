package chat

import (
	"sync"
	"time"
)

const (
	// DefaultTypingDebounce is the local inactivity window after the last
	// keystroke before the stop signal goes out.
	DefaultTypingDebounce = 2 * time.Second
	// DefaultRemoteTypingTTL expires a remote typing indicator that never
	// received an explicit stop, e.g. the sender disconnected mid-typing.
	DefaultRemoteTypingTTL = 5 * time.Second
)

// TypingCoordinator turns local keystroke activity into rate-limited
// outbound typing signals and remote signals into displayable state.
type TypingCoordinator struct {
	localUserID string
	debounce    time.Duration
	remoteTTL   time.Duration
	broadcast   func(isTyping bool)
	onChange    func()

	mu           sync.Mutex
	active       bool
	stopTimer    *time.Timer
	remote       map[string]bool
	remoteTimers map[string]*time.Timer
	stopped      bool
}

// TypingOptions configures a coordinator. Broadcast is invoked with the
// outbound typing state; OnRemoteChange fires when remote display state
// changes. Both may be nil.
type TypingOptions struct {
	LocalUserID    string
	Debounce       time.Duration
	RemoteTTL      time.Duration
	Broadcast      func(isTyping bool)
	OnRemoteChange func()
}

// NewTypingCoordinator builds a coordinator with defaulted timings.
func NewTypingCoordinator(opts TypingOptions) *TypingCoordinator {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultTypingDebounce
	}
	if opts.RemoteTTL <= 0 {
		opts.RemoteTTL = DefaultRemoteTypingTTL
	}
	return &TypingCoordinator{
		localUserID:  opts.LocalUserID,
		debounce:     opts.Debounce,
		remoteTTL:    opts.RemoteTTL,
		broadcast:    opts.Broadcast,
		onChange:     opts.OnRemoteChange,
		remote:       make(map[string]bool),
		remoteTimers: make(map[string]*time.Timer),
	}
}

// InputChanged records a local keystroke. The first keystroke of a burst
// broadcasts isTyping=true; each keystroke resets the debounce timer, and
// only its expiry broadcasts isTyping=false.
func (tc *TypingCoordinator) InputChanged() {
	tc.mu.Lock()
	if tc.stopped {
		tc.mu.Unlock()
		return
	}
	fire := !tc.active
	tc.active = true
	if tc.stopTimer != nil {
		tc.stopTimer.Stop()
	}
	tc.stopTimer = time.AfterFunc(tc.debounce, tc.debounceExpired)
	tc.mu.Unlock()

	if fire && tc.broadcast != nil {
		tc.broadcast(true)
	}
}

// MessageSent broadcasts an immediate stop, independent of the timer.
func (tc *TypingCoordinator) MessageSent() {
	tc.mu.Lock()
	if tc.stopped {
		tc.mu.Unlock()
		return
	}
	fire := tc.active
	tc.active = false
	if tc.stopTimer != nil {
		tc.stopTimer.Stop()
		tc.stopTimer = nil
	}
	tc.mu.Unlock()

	if fire && tc.broadcast != nil {
		tc.broadcast(false)
	}
}

func (tc *TypingCoordinator) debounceExpired() {
	tc.mu.Lock()
	if tc.stopped || !tc.active {
		tc.mu.Unlock()
		return
	}
	tc.active = false
	tc.stopTimer = nil
	tc.mu.Unlock()

	if tc.broadcast != nil {
		tc.broadcast(false)
	}
}

// SetRemoteTyping applies a remote typing event. Events for the local user
// are ignored. A true state expires on its own after the remote TTL since
// no stop signal is guaranteed.
func (tc *TypingCoordinator) SetRemoteTyping(userID string, isTyping bool) {
	if userID == "" || userID == tc.localUserID {
		return
	}

	tc.mu.Lock()
	if tc.stopped {
		tc.mu.Unlock()
		return
	}
	changed := tc.remote[userID] != isTyping
	if timer, ok := tc.remoteTimers[userID]; ok {
		timer.Stop()
		delete(tc.remoteTimers, userID)
	}
	if isTyping {
		tc.remote[userID] = true
		tc.remoteTimers[userID] = time.AfterFunc(tc.remoteTTL, func() { tc.expireRemote(userID) })
	} else {
		delete(tc.remote, userID)
	}
	tc.mu.Unlock()

	if changed && tc.onChange != nil {
		tc.onChange()
	}
}

func (tc *TypingCoordinator) expireRemote(userID string) {
	tc.mu.Lock()
	if tc.stopped || !tc.remote[userID] {
		tc.mu.Unlock()
		return
	}
	delete(tc.remote, userID)
	delete(tc.remoteTimers, userID)
	tc.mu.Unlock()

	if tc.onChange != nil {
		tc.onChange()
	}
}

// RemoteTyping reports whether any remote participant is typing.
func (tc *TypingCoordinator) RemoteTyping() bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.remote) > 0
}

// TypingUsers returns the IDs of remote participants currently typing.
func (tc *TypingCoordinator) TypingUsers() []string {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	out := make([]string, 0, len(tc.remote))
	for id := range tc.remote {
		out = append(out, id)
	}
	return out
}

// Reset clears all local and remote typing state, keeping the coordinator
// usable. Used when switching conversations.
func (tc *TypingCoordinator) Reset() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.clearLocked()
}

// Stop cancels every pending timer and makes the coordinator inert.
func (tc *TypingCoordinator) Stop() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.clearLocked()
	tc.stopped = true
}

func (tc *TypingCoordinator) clearLocked() {
	tc.active = false
	if tc.stopTimer != nil {
		tc.stopTimer.Stop()
		tc.stopTimer = nil
	}
	for _, timer := range tc.remoteTimers {
		timer.Stop()
	}
	tc.remoteTimers = make(map[string]*time.Timer)
	tc.remote = make(map[string]bool)
}

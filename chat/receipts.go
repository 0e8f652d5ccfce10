package chat

import (
	"sync"

	"chatsync/models"
)

// ReadReceiptTracker signals the server that the viewer has seen up through
// the latest message. Emission is fire-and-forget; its effect comes back
// indirectly as a later messages_read event patching the timeline.
type ReadReceiptTracker struct {
	localUserID string
	emit        func(conversationID, messageID string)

	mu       sync.Mutex
	lastSeen string
}

// NewReadReceiptTracker builds a tracker; emit may be nil (no-op).
func NewReadReceiptTracker(localUserID string, emit func(conversationID, messageID string)) *ReadReceiptTracker {
	return &ReadReceiptTracker{localUserID: localUserID, emit: emit}
}

// Observe inspects the timeline's tail. When the tail ID changed since the
// last emission and the message is not the viewer's own, a mark-as-read
// signal goes out. Re-observing the same tail is a no-op.
func (rt *ReadReceiptTracker) Observe(conversationID string, last models.Message) {
	if last.ID == "" || last.SentBy(rt.localUserID) {
		return
	}

	rt.mu.Lock()
	if rt.lastSeen == last.ID {
		rt.mu.Unlock()
		return
	}
	rt.lastSeen = last.ID
	rt.mu.Unlock()

	if rt.emit != nil {
		rt.emit(conversationID, last.ID)
	}
}

// Reset forgets the last emitted tail, used when switching conversations.
func (rt *ReadReceiptTracker) Reset() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.lastSeen = ""
}

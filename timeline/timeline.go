// Package timeline holds the in-memory ordered, deduplicated view of one
// conversation's messages. It is the single source of truth for what the
// conversation looks like right now, safe under interleaving of history
// pages and live pushes.
package timeline

import (
	"sync"
	"time"

	"chatsync/models"
)

// Timeline preserves arrival/seed order and never re-sorts by timestamp.
// A message ID appears at most once; the ID is the sole deduplication key.
type Timeline struct {
	mu      sync.RWMutex
	entries []models.Message
	index   map[string]int
	version uint64
}

// New returns an empty timeline.
func New() *Timeline {
	return &Timeline{index: make(map[string]int)}
}

// Seed installs the first fetched page. Live messages appended before the
// seed resolves are kept: the seeded page goes first in server order,
// followed by the previously-appended entries not present in the page.
func (t *Timeline) Seed(msgs []models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	held := t.entries
	t.entries = make([]models.Message, 0, len(msgs)+len(held))
	t.index = make(map[string]int, len(msgs)+len(held))

	for _, msg := range msgs {
		t.insertLocked(msg)
	}
	for _, msg := range held {
		t.insertLocked(msg)
	}
	t.version++
}

// Append adds a message unless an entry with its ID already exists. A
// duplicate (the sender's own REST response racing its live echo) is a
// silent no-op; the existing entry is left untouched. Reports whether the
// message was added.
func (t *Timeline) Append(msg models.Message) bool {
	if msg.ID == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.index[msg.ID]; exists {
		return false
	}
	t.insertLocked(msg)
	t.version++
	return true
}

// Prepend merges an older history page before the existing entries, used by
// load-more. Entries already present keep their position; the existing
// order is never disturbed.
func (t *Timeline) Prepend(msgs []models.Message) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	fresh := make([]models.Message, 0, len(msgs))
	seen := make(map[string]struct{}, len(msgs))
	for _, msg := range msgs {
		if msg.ID == "" {
			continue
		}
		if _, dup := t.index[msg.ID]; dup {
			continue
		}
		if _, dup := seen[msg.ID]; dup {
			continue
		}
		seen[msg.ID] = struct{}{}
		fresh = append(fresh, msg)
	}
	if len(fresh) == 0 {
		return 0
	}

	t.entries = append(fresh, t.entries...)
	for i, msg := range t.entries {
		t.index[msg.ID] = i
	}
	t.version++
	return len(fresh)
}

// PatchDelivered sets deliveredAt on the matching message, last write wins.
// An unknown ID is a no-op: the message simply is not in the timeline yet.
func (t *Timeline) PatchDelivered(messageID string, deliveredAt time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, ok := t.index[messageID]
	if !ok {
		return false
	}
	at := deliveredAt
	t.entries[i].DeliveredAt = &at
	t.version++
	return true
}

// PatchDeliveredFrom sets deliveredAt on every undelivered message sent by
// the given user. Bulk delivery acknowledgments carry only a count, so the
// patch applies to everything of the sender's still pending. Returns how
// many entries were patched.
func (t *Timeline) PatchDeliveredFrom(senderID string, deliveredAt time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	patched := 0
	for i := range t.entries {
		if t.entries[i].SenderID() != senderID || t.entries[i].DeliveredAt != nil {
			continue
		}
		at := deliveredAt
		t.entries[i].DeliveredAt = &at
		patched++
	}
	if patched > 0 {
		t.version++
	}
	return patched
}

// PatchRead marks every matching message read at the given time; IDs not in
// the timeline are ignored. Returns how many entries were patched.
func (t *Timeline) PatchRead(messageIDs []string, readAt time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	patched := 0
	for _, id := range messageIDs {
		i, ok := t.index[id]
		if !ok {
			continue
		}
		at := readAt
		t.entries[i].ReadAt = &at
		t.entries[i].IsRead = true
		patched++
	}
	if patched > 0 {
		t.version++
	}
	return patched
}

// Reset empties the timeline, used when switching conversations.
func (t *Timeline) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
	t.index = make(map[string]int)
	t.version++
}

// Messages returns a copy of the current entries in order.
func (t *Timeline) Messages() []models.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.Message, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries.
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Last returns the newest entry, if any.
func (t *Timeline) Last() (models.Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.entries) == 0 {
		return models.Message{}, false
	}
	return t.entries[len(t.entries)-1], true
}

// Version is a counter bumped on every mutation. Callers compare versions
// to decide whether the tail may have changed.
func (t *Timeline) Version() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// CounterpartOf returns the first sender that is not the local user, which
// is how the conversation's counterpart is derived. Reported once found;
// callers treat it as stable for the view session.
func (t *Timeline) CounterpartOf(localUserID string) (models.Participant, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, msg := range t.entries {
		if msg.Sender != nil && msg.Sender.ID != localUserID {
			return *msg.Sender, true
		}
	}
	return models.Participant{}, false
}

func (t *Timeline) insertLocked(msg models.Message) {
	if msg.ID == "" {
		return
	}
	if _, exists := t.index[msg.ID]; exists {
		return
	}
	t.index[msg.ID] = len(t.entries)
	t.entries = append(t.entries, msg)
}

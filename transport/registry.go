package transport

import (
	"encoding/json"
	"errors"
	"log"
	"sync"

	"chatsync/models"
)

// Handlers holds one optional callback per server-pushed event kind.
// Registration is session-global, not per-room: where a payload carries a
// conversationId the caller is responsible for filtering on it.
type Handlers struct {
	OnNewMessage        func(models.Message)
	OnUserTyping        func(UserTypingPayload)
	OnMessageDelivered  func(MessageDeliveredPayload)
	OnMessagesDelivered func(MessagesDeliveredPayload)
	OnMessagesRead      func(MessagesReadPayload)
	OnError             func(error)
	OnReconnecting      func(attempt int)
	OnReconnected       func()
}

// Registry dispatches decoded live-channel events to registered handlers.
// Binding is additive: later Bind calls overwrite only the callbacks they set.
type Registry struct {
	mu       sync.RWMutex
	handlers Handlers
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Bind registers the non-nil callbacks of h, keeping existing ones otherwise.
func (r *Registry) Bind(h Handlers) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h.OnNewMessage != nil {
		r.handlers.OnNewMessage = h.OnNewMessage
	}
	if h.OnUserTyping != nil {
		r.handlers.OnUserTyping = h.OnUserTyping
	}
	if h.OnMessageDelivered != nil {
		r.handlers.OnMessageDelivered = h.OnMessageDelivered
	}
	if h.OnMessagesDelivered != nil {
		r.handlers.OnMessagesDelivered = h.OnMessagesDelivered
	}
	if h.OnMessagesRead != nil {
		r.handlers.OnMessagesRead = h.OnMessagesRead
	}
	if h.OnError != nil {
		r.handlers.OnError = h.OnError
	}
	if h.OnReconnecting != nil {
		r.handlers.OnReconnecting = h.OnReconnecting
	}
	if h.OnReconnected != nil {
		r.handlers.OnReconnected = h.OnReconnected
	}
}

// Reset drops all registered handlers.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = Handlers{}
}

func (r *Registry) snapshot() Handlers {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers
}

// Dispatch decodes one inbound frame and invokes the matching handler.
// Malformed payloads and payloads missing their identifying fields are
// dropped with a log line; events are otherwise trusted as shaped.
func (r *Registry) Dispatch(raw []byte) {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		log.Printf("transport: dropping malformed frame: %v", err)
		return
	}

	h := r.snapshot()
	switch env.Event {
	case EventNewMessage:
		var msg models.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil || msg.ID == "" {
			log.Printf("transport: dropping new_message without id: %v", err)
			return
		}
		if h.OnNewMessage != nil {
			h.OnNewMessage(msg)
		}
	case EventUserTyping:
		var payload UserTypingPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil || payload.UserID == "" {
			log.Printf("transport: dropping user_typing without userId: %v", err)
			return
		}
		if h.OnUserTyping != nil {
			h.OnUserTyping(payload)
		}
	case EventMessageDelivered:
		var payload MessageDeliveredPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil || payload.MessageID == "" {
			log.Printf("transport: dropping message_delivered without messageId: %v", err)
			return
		}
		if h.OnMessageDelivered != nil {
			h.OnMessageDelivered(payload)
		}
	case EventMessagesDelivered:
		var payload MessagesDeliveredPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil || payload.ConversationID == "" {
			log.Printf("transport: dropping messages_delivered without conversationId: %v", err)
			return
		}
		if h.OnMessagesDelivered != nil {
			h.OnMessagesDelivered(payload)
		}
	case EventMessagesRead:
		var payload MessagesReadPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil || payload.ConversationID == "" {
			log.Printf("transport: dropping messages_read without conversationId: %v", err)
			return
		}
		if h.OnMessagesRead != nil {
			h.OnMessagesRead(payload)
		}
	case EventError:
		var payload ErrorPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			log.Printf("transport: dropping malformed error event: %v", err)
			return
		}
		r.dispatchError(errors.New("transport: server error: " + payload.Message))
	default:
		log.Printf("transport: ignoring unknown event %q", env.Event)
	}
}

func (r *Registry) dispatchError(err error) {
	if h := r.snapshot(); h.OnError != nil {
		h.OnError(err)
	}
}

func (r *Registry) dispatchReconnecting(attempt int) {
	if h := r.snapshot(); h.OnReconnecting != nil {
		h.OnReconnecting(attempt)
	}
}

func (r *Registry) dispatchReconnected() {
	if h := r.snapshot(); h.OnReconnected != nil {
		h.OnReconnected()
	}
}

package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultPingInterval sends a keepalive ping on the live channel.
	DefaultPingInterval = 30 * time.Second
	// DefaultPongWait bounds how long a pong may take before the read side
	// treats the connection as dead.
	DefaultPongWait = 60 * time.Second
	// DefaultWriteWait bounds each outbound write.
	DefaultWriteWait = 10 * time.Second
)

// Outbound event names.
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventTyping            = "typing"
	EventMarkAsRead        = "mark_as_read"
)

// Inbound event names.
const (
	EventNewMessage        = "new_message"
	EventUserTyping        = "user_typing"
	EventMessageDelivered  = "message_delivered"
	EventMessagesDelivered = "messages_delivered"
	EventMessagesRead      = "messages_read"
	EventError             = "error"
)

var (
	// ErrInvalidEventType indicates the event name is missing or unknown.
	ErrInvalidEventType = errors.New("transport: invalid event type")
	// ErrSessionClosed indicates the session has been closed by the caller.
	ErrSessionClosed = errors.New("transport: session closed")
	// ErrNotConnected indicates no live connection is currently open.
	ErrNotConnected = errors.New("transport: not connected")
)

// Envelope wraps every frame on the live channel with an event discriminator.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinPayload is sent with join_conversation and leave_conversation.
type JoinPayload struct {
	ConversationID string `json:"conversationId"`
}

// TypingPayload is the outbound typing signal.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

// MarkAsReadPayload asks the server to mark everything up to MessageID read.
type MarkAsReadPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// UserTypingPayload is the inbound remote typing state change.
type UserTypingPayload struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// MessageDeliveredPayload confirms one message reached a recipient's client.
type MessageDeliveredPayload struct {
	MessageID   string    `json:"messageId"`
	DeliveredAt time.Time `json:"deliveredAt"`
}

// MessagesDeliveredPayload summarizes a bulk delivery acknowledgment.
type MessagesDeliveredPayload struct {
	ConversationID string `json:"conversationId"`
	Count          int    `json:"count"`
}

// MessagesReadPayload reports a batch of messages read by the counterpart.
type MessagesReadPayload struct {
	ConversationID string    `json:"conversationId"`
	MessageIDs     []string  `json:"messageIds"`
	ReadAt         time.Time `json:"readAt"`
}

// ErrorPayload is a server-reported transport error.
type ErrorPayload struct {
	Message string `json:"message"`
}

// EncodeEnvelope marshals an event and its payload into one frame.
func EncodeEnvelope(event string, payload any) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		env.Data = data
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", event, err)
	}
	return raw, nil
}

// DecodeEnvelope unmarshals one frame and validates the event discriminator.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, ErrInvalidEventType
	}
	return env, nil
}

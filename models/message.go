package models

import "time"

const (
	// MessageTypeText is a plain text message body.
	MessageTypeText = "text"
	// MessageTypeFile carries an attachment reference alongside the body.
	MessageTypeFile = "file"
)

// Participant identifies one side of a conversation.
type Participant struct {
	ID        string `json:"_id"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Avatar    string `json:"avatar,omitempty"`
}

// DisplayName returns the participant's human-readable name.
func (p Participant) DisplayName() string {
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	case p.LastName != "":
		return p.LastName
	default:
		return p.ID
	}
}

// Message is one persisted conversation entry. ID is globally unique within a
// conversation and is the sole deduplication key. A message is created
// server-side on send and reaches the client either through a history page or
// a live push; it is mutated in place only to set receipt fields and is never
// deleted client-side.
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversationId,omitempty"`
	Sender         *Participant `json:"senderId,omitempty"`
	Content        string       `json:"content"`
	MessageType    string       `json:"messageType,omitempty"`
	FileURL        string       `json:"fileUrl,omitempty"`
	FileName       string       `json:"fileName,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	DeliveredAt    *time.Time   `json:"deliveredAt,omitempty"`
	ReadAt         *time.Time   `json:"readAt,omitempty"`
	IsRead         bool         `json:"isRead,omitempty"`
}

// SenderID returns the sender's participant ID, or "" for system messages.
func (m Message) SenderID() string {
	if m.Sender == nil {
		return ""
	}
	return m.Sender.ID
}

// SentBy reports whether the message was sent by the given participant.
func (m Message) SentBy(userID string) bool {
	return m.Sender != nil && m.Sender.ID == userID
}

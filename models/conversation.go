package models

// Identity is the local user's read-only session identity, supplied by the
// embedding application's user-session provider.
type Identity struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

// PaginationState describes one page boundary of a conversation's history.
type PaginationState struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	Pages   int  `json:"pages"`
	HasMore bool `json:"hasMore"`
}

// Conversation is a two-participant channel. The counterpart is derived from
// the first message whose sender is not the local user and is treated as
// stable once set.
type Conversation struct {
	ConversationID string          `json:"conversationId"`
	Counterpart    *Participant    `json:"counterpart,omitempty"`
	Pagination     PaginationState `json:"pagination"`
}

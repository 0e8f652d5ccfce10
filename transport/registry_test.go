package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/models"
)

func mustEncode(t *testing.T, event string, payload any) []byte {
	t.Helper()
	raw, err := EncodeEnvelope(event, payload)
	require.NoError(t, err)
	return raw
}

func TestRegistryDispatchesNewMessage(t *testing.T) {
	reg := NewRegistry()

	var got models.Message
	reg.Bind(Handlers{OnNewMessage: func(msg models.Message) { got = msg }})

	reg.Dispatch(mustEncode(t, EventNewMessage, models.Message{
		ID:             "m1",
		ConversationID: "c1",
		Content:        "hi",
		Sender:         &models.Participant{ID: "u2"},
	}))

	assert.Equal(t, "m1", got.ID)
	assert.Equal(t, "c1", got.ConversationID)
	assert.Equal(t, "u2", got.SenderID())
}

func TestRegistryDropsMessageWithoutID(t *testing.T) {
	reg := NewRegistry()

	called := false
	reg.Bind(Handlers{OnNewMessage: func(models.Message) { called = true }})

	reg.Dispatch(mustEncode(t, EventNewMessage, models.Message{Content: "no id"}))
	assert.False(t, called, "message without id must be dropped")
}

func TestRegistryDispatchesReceiptEvents(t *testing.T) {
	reg := NewRegistry()

	var delivered MessageDeliveredPayload
	var read MessagesReadPayload
	reg.Bind(Handlers{
		OnMessageDelivered: func(p MessageDeliveredPayload) { delivered = p },
		OnMessagesRead:     func(p MessagesReadPayload) { read = p },
	})

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg.Dispatch(mustEncode(t, EventMessageDelivered, MessageDeliveredPayload{MessageID: "m1", DeliveredAt: at}))
	reg.Dispatch(mustEncode(t, EventMessagesRead, MessagesReadPayload{ConversationID: "c1", MessageIDs: []string{"m1", "m2"}, ReadAt: at}))

	assert.Equal(t, "m1", delivered.MessageID)
	assert.True(t, delivered.DeliveredAt.Equal(at))
	assert.Equal(t, []string{"m1", "m2"}, read.MessageIDs)
	assert.Equal(t, "c1", read.ConversationID)
}

func TestRegistryBindIsAdditive(t *testing.T) {
	reg := NewRegistry()

	var typing UserTypingPayload
	var msgSeen bool
	reg.Bind(Handlers{OnNewMessage: func(models.Message) { msgSeen = true }})
	reg.Bind(Handlers{OnUserTyping: func(p UserTypingPayload) { typing = p }})

	reg.Dispatch(mustEncode(t, EventNewMessage, models.Message{ID: "m1"}))
	reg.Dispatch(mustEncode(t, EventUserTyping, UserTypingPayload{UserID: "u2", IsTyping: true}))

	assert.True(t, msgSeen, "earlier binding must survive a later Bind")
	assert.Equal(t, "u2", typing.UserID)
	assert.True(t, typing.IsTyping)
}

func TestRegistryIgnoresUnknownEventsAndMalformedFrames(t *testing.T) {
	reg := NewRegistry()
	reg.Bind(Handlers{OnNewMessage: func(models.Message) { t.Fatal("unexpected dispatch") }})

	reg.Dispatch([]byte(`{"event":"presence_update","data":{}}`))
	reg.Dispatch([]byte(`}{`))
	reg.Dispatch(mustEncode(t, EventUserTyping, UserTypingPayload{IsTyping: true})) // missing userId
}

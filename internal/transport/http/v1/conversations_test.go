package v1

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/chatline/internal/domain"
	"github.com/xiaot623/chatline/internal/service"
)

func TestCreateConversation(t *testing.T) {
	env := newTestHandler(t)

	c, rec := newContext(http.MethodPost, "/v1/conversations", `{"receiver_id":"bob"}`, "alice")
	require.NoError(t, env.handler.CreateConversation(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Conversation domain.Conversation `json:"conversation"`
	}
	decode(t, rec, &resp)
	assert.NotEmpty(t, resp.Conversation.ID)
	assert.Equal(t, domain.NewPair("alice", "bob"), resp.Conversation.Participants)

	c, rec = newContext(http.MethodPost, "/v1/conversations", `{"receiver_id":"alice"}`, "bob")
	require.NoError(t, env.handler.CreateConversation(c))
	var again struct {
		Conversation domain.Conversation `json:"conversation"`
	}
	decode(t, rec, &again)
	assert.Equal(t, resp.Conversation.ID, again.Conversation.ID)
}

func TestCreateConversationErrors(t *testing.T) {
	env := newTestHandler(t)
	cases := []struct {
		name string
		body string
		code int
	}{
		{"malformed", `{`, http.StatusBadRequest},
		{"missing receiver", `{}`, http.StatusBadRequest},
		{"self", `{"receiver_id":"alice"}`, http.StatusBadRequest},
		{"unknown receiver", `{"receiver_id":"zed"}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, rec := newContext(http.MethodPost, "/v1/conversations", tc.body, "alice")
			require.NoError(t, env.handler.CreateConversation(c))
			assert.Equal(t, tc.code, rec.Code)

			var body map[string]string
			decode(t, rec, &body)
			assert.NotEmpty(t, body["error"])
			assert.NotEmpty(t, body["code"])
		})
	}
}

func TestListConversations(t *testing.T) {
	env := newTestHandler(t)
	_, err := env.svc.SendMessage(context.Background(), service.SendInput{SenderID: "bob", ReceiverID: "alice", Body: "hi"})
	require.NoError(t, err)

	c, rec := newContext(http.MethodGet, "/v1/conversations", "", "alice")
	require.NoError(t, env.handler.ListConversations(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Conversations []domain.ConversationView `json:"conversations"`
	}
	decode(t, rec, &resp)
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, "bob", resp.Conversations[0].OtherParticipant)
	assert.Equal(t, 1, resp.Conversations[0].UnreadCount)
	require.NotNil(t, resp.Conversations[0].LastMessage)
	assert.Equal(t, "hi", resp.Conversations[0].LastMessage.Body)
}

func TestGetMessagesMarksRead(t *testing.T) {
	env := newTestHandler(t)
	ctx := context.Background()
	var convID string
	for _, body := range []string{"one", "two", "three"} {
		msg, err := env.svc.SendMessage(ctx, service.SendInput{SenderID: "bob", ReceiverID: "alice", Body: body})
		require.NoError(t, err)
		convID = msg.ConversationID
	}

	c, rec := newContext(http.MethodGet, "/v1/conversations/"+convID+"/messages?page=1&limit=2", "", "alice")
	c.SetPath("/v1/conversations/:conversation_id/messages")
	c.SetParamNames("conversation_id")
	c.SetParamValues(convID)
	require.NoError(t, env.handler.GetMessages(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var page domain.MessagePage
	decode(t, rec, &page)
	assert.Equal(t, 1, page.CurrentPage)
	assert.Equal(t, 2, page.TotalPages)
	assert.True(t, page.HasMore)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "two", page.Messages[0].Body)
	assert.Equal(t, "three", page.Messages[1].Body)
	assert.Equal(t, 3, page.MarkedRead)

	count, err := env.store.GetUnreadCount(ctx, convID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestGetMessagesErrors(t *testing.T) {
	env := newTestHandler(t)
	msg, err := env.svc.SendMessage(context.Background(), service.SendInput{SenderID: "bob", ReceiverID: "alice", Body: "private"})
	require.NoError(t, err)

	cases := []struct {
		name   string
		user   string
		convID string
		query  string
		code   int
	}{
		{"outsider", "carol", msg.ConversationID, "", http.StatusForbidden},
		{"unknown", "alice", "missing", "", http.StatusNotFound},
		{"bad page", "alice", msg.ConversationID, "?page=zero", http.StatusBadRequest},
		{"bad limit", "alice", msg.ConversationID, "?limit=-1", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, rec := newContext(http.MethodGet, "/v1/conversations/"+tc.convID+"/messages"+tc.query, "", tc.user)
			c.SetParamNames("conversation_id")
			c.SetParamValues(tc.convID)
			require.NoError(t, env.handler.GetMessages(c))
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestMarkRead(t *testing.T) {
	env := newTestHandler(t)
	msg, err := env.svc.SendMessage(context.Background(), service.SendInput{SenderID: "bob", ReceiverID: "alice", Body: "ping"})
	require.NoError(t, err)

	for _, want := range []int{1, 0} {
		c, rec := newContext(http.MethodPost, "/v1/conversations/"+msg.ConversationID+"/read", "", "alice")
		c.SetParamNames("conversation_id")
		c.SetParamValues(msg.ConversationID)
		require.NoError(t, env.handler.MarkRead(c))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			OK         bool `json:"ok"`
			MarkedRead int  `json:"marked_read"`
		}
		decode(t, rec, &resp)
		assert.True(t, resp.OK)
		assert.Equal(t, want, resp.MarkedRead)
	}
}

func TestDeleteConversation(t *testing.T) {
	env := newTestHandler(t)
	msg, err := env.svc.SendMessage(context.Background(), service.SendInput{SenderID: "bob", ReceiverID: "alice", Body: "bye"})
	require.NoError(t, err)

	c, rec := newContext(http.MethodDelete, "/v1/conversations/"+msg.ConversationID, "", "carol")
	c.SetParamNames("conversation_id")
	c.SetParamValues(msg.ConversationID)
	require.NoError(t, env.handler.DeleteConversation(c))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	c, rec = newContext(http.MethodDelete, "/v1/conversations/"+msg.ConversationID, "", "alice")
	c.SetParamNames("conversation_id")
	c.SetParamValues(msg.ConversationID)
	require.NoError(t, env.handler.DeleteConversation(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	conv, err := env.store.GetConversation(context.Background(), msg.ConversationID)
	require.NoError(t, err)
	assert.Nil(t, conv)
}

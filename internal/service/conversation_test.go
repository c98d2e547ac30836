package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/xiaot623/chatline/internal/domain"
	"github.com/xiaot623/chatline/internal/hub"
	"github.com/xiaot623/chatline/internal/mocks"
	"github.com/xiaot623/chatline/internal/protocol"
)

func TestMarkReadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newTestService(t, nil)
	alice := f.connect(t, "alice")

	var convID string
	for i := 0; i < 3; i++ {
		msg, err := f.svc.SendMessage(ctx, SendInput{SenderID: "alice", ReceiverID: "bob", Body: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
		convID = msg.ConversationID
	}
	received(t, alice)

	flipped, err := f.svc.MarkRead(ctx, "bob", convID)
	require.NoError(t, err)
	assert.Equal(t, 3, flipped)

	var read protocol.MessagesReadMessage
	events := received(t, alice)
	require.Equal(t, []string{protocol.TypeMessagesRead}, types(events))
	events[0].decode(t, &read)
	assert.Equal(t, "bob", read.UserID)
	assert.Equal(t, 3, read.Count)

	flipped, err = f.svc.MarkRead(ctx, "bob", convID)
	require.NoError(t, err)
	assert.Zero(t, flipped)
	assert.Empty(t, received(t, alice))

	count, err := f.store.GetUnreadCount(ctx, convID)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = f.svc.MarkRead(ctx, "carol", convID)
	assert.ErrorIs(t, err, domain.ErrNotParticipant)
}

func TestHistoryPaging(t *testing.T) {
	ctx := context.Background()
	f := newTestService(t, nil)

	var convID string
	for i := 0; i < 5; i++ {
		msg, err := f.svc.SendMessage(ctx, SendInput{SenderID: "alice", ReceiverID: "bob", Body: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
		convID = msg.ConversationID
	}

	page, err := f.svc.History(ctx, "alice", convID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 3, page.TotalPages)
	assert.True(t, page.HasMore)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "m3", page.Messages[0].Body)
	assert.Equal(t, "m4", page.Messages[1].Body)
	assert.Zero(t, page.MarkedRead, "nothing is addressed to the sender")

	page, err = f.svc.History(ctx, "alice", convID, 3, 2)
	require.NoError(t, err)
	assert.False(t, page.HasMore)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "m0", page.Messages[0].Body)

	_, err = f.svc.History(ctx, "carol", convID, 1, 2)
	assert.Equal(t, domain.KindForbidden, domain.KindOf(err))
	_, err = f.svc.History(ctx, "alice", "missing", 1, 2)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestListConversationsNewestFirst(t *testing.T) {
	ctx := context.Background()
	f := newTestService(t, nil)
	f.connect(t, "carol")

	_, err := f.svc.SendMessage(ctx, SendInput{SenderID: "alice", ReceiverID: "bob", Body: "old"})
	require.NoError(t, err)
	latest, err := f.svc.SendMessage(ctx, SendInput{SenderID: "alice", ReceiverID: "carol", Body: "new"})
	require.NoError(t, err)

	views, err := f.svc.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "carol", views[0].OtherParticipant)
	assert.True(t, views[0].OtherPresence.Online)
	require.NotNil(t, views[0].LastMessage)
	assert.Equal(t, latest.ID, views[0].LastMessage.ID)
	assert.Equal(t, 1, views[0].UnreadCount)
	assert.Equal(t, "bob", views[1].OtherParticipant)
	assert.False(t, views[1].OtherPresence.Online)
}

func TestGetOrCreateConversation(t *testing.T) {
	ctx := context.Background()
	f := newTestService(t, nil)

	first, err := f.svc.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	again, err := f.svc.GetOrCreateConversation(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	_, err = f.svc.GetOrCreateConversation(ctx, "alice", "zed")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	_, err = f.svc.GetOrCreateConversation(ctx, "alice", "alice")
	assert.ErrorIs(t, err, domain.ErrSelfMessage)
}

func TestDeleteMessageTombstones(t *testing.T) {
	ctx := context.Background()
	f := newTestService(t, nil)
	bob := f.connect(t, "bob")

	msg, err := f.svc.SendMessage(ctx, SendInput{SenderID: "alice", ReceiverID: "bob", Body: "oops", AttachmentURL: "https://cdn.example.com/a.png"})
	require.NoError(t, err)
	received(t, bob)

	_, err = f.svc.DeleteMessage(ctx, "bob", msg.ID)
	assert.ErrorIs(t, err, domain.ErrNotSender)
	_, err = f.svc.DeleteMessage(ctx, "alice", "missing")
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)

	deleted, err := f.svc.DeleteMessage(ctx, "alice", msg.ID)
	require.NoError(t, err)
	require.NotNil(t, deleted.DeletedAt)
	assert.Equal(t, "alice", deleted.DeletedBy)
	assert.Empty(t, deleted.Body)

	events := received(t, bob)
	require.Equal(t, []string{protocol.TypeMessageDeleted}, types(events))
	var note protocol.MessageDeletedMessage
	events[0].decode(t, &note)
	assert.Equal(t, msg.ID, note.MessageID)
	assert.Equal(t, msg.ConversationID, note.ConversationID)

	again, err := f.svc.DeleteMessage(ctx, "alice", msg.ID)
	require.NoError(t, err)
	assert.Equal(t, deleted.DeletedAt.Unix(), again.DeletedAt.Unix())
	assert.Empty(t, received(t, bob))

	page, err := f.svc.History(ctx, "bob", msg.ConversationID, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.True(t, page.Messages[0].Deleted())
	assert.Empty(t, page.Messages[0].Body)
	assert.Empty(t, page.Messages[0].AttachmentURL)
}

func TestDeleteMessageLosingConcurrentDelete(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	svc, h := newMockedService(t, store)

	bob := hub.NewConnection("bob", nil, 8)
	h.Registry.Register(bob)

	live := &domain.Message{ID: "m1", ConversationID: "c1", SenderID: "alice", ReceiverID: "bob", Body: "oops"}
	deletedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	gone := *live
	gone.DeletedAt = &deletedAt
	gone.DeletedBy = "alice"

	gomock.InOrder(
		store.EXPECT().GetMessage(gomock.Any(), "m1").Return(live, nil),
		store.EXPECT().SoftDeleteMessage(gomock.Any(), "m1", "alice", gomock.Any()).Return(false, nil),
		store.EXPECT().GetMessage(gomock.Any(), "m1").Return(&gone, nil),
	)
	// The winner relays, so no conversation lookup follows.

	got, err := svc.DeleteMessage(ctx, "alice", "m1")
	require.NoError(t, err)
	require.NotNil(t, got.DeletedAt)
	assert.Equal(t, deletedAt, *got.DeletedAt)
	assert.Empty(t, got.Body)
	assert.Empty(t, received(t, bob))
}

func TestDeleteMessageVanishedDuringDelete(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	svc, _ := newMockedService(t, store)

	live := &domain.Message{ID: "m1", ConversationID: "c1", SenderID: "alice", ReceiverID: "bob", Body: "oops"}
	gomock.InOrder(
		store.EXPECT().GetMessage(gomock.Any(), "m1").Return(live, nil),
		store.EXPECT().SoftDeleteMessage(gomock.Any(), "m1", "alice", gomock.Any()).Return(false, nil),
		store.EXPECT().GetMessage(gomock.Any(), "m1").Return(nil, nil),
	)

	_, err := svc.DeleteMessage(ctx, "alice", "m1")
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)
}

func TestDeleteConversationDropsRoom(t *testing.T) {
	ctx := context.Background()
	f := newTestService(t, nil)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	msg, err := f.svc.SendMessage(ctx, SendInput{SenderID: "alice", ReceiverID: "bob", Body: "bye"})
	require.NoError(t, err)
	require.NoError(t, f.svc.JoinRoom(ctx, alice, msg.ConversationID))
	require.NoError(t, f.svc.JoinRoom(ctx, bob, msg.ConversationID))
	received(t, alice)
	received(t, bob)

	require.ErrorIs(t, f.svc.DeleteConversation(ctx, "carol", msg.ConversationID), domain.ErrNotParticipant)
	require.NoError(t, f.svc.DeleteConversation(ctx, "alice", msg.ConversationID))

	assert.Equal(t, []string{protocol.TypeConversationDeleted}, types(received(t, bob)))
	assert.Empty(t, f.svc.Hub().Rooms.MembersOf(msg.ConversationID))

	gone, err := f.store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
	assert.ErrorIs(t, f.svc.DeleteConversation(ctx, "alice", msg.ConversationID), domain.ErrConversationNotFound)
}

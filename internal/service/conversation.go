package service

import (
	"context"

	"github.com/samber/lo"

	"github.com/xiaot623/chatline/internal/domain"
	"github.com/xiaot623/chatline/internal/protocol"
)

const maxHistoryPageSize = 200

// GetOrCreateConversation returns the conversation between userID and
// otherID, creating it on first contact.
func (s *Service) GetOrCreateConversation(ctx context.Context, userID, otherID string) (*domain.Conversation, error) {
	if otherID == "" {
		return nil, domain.InvalidArgument("receiver_id is required")
	}
	if otherID == userID {
		return nil, domain.ErrSelfMessage
	}
	other, err := s.store.GetUser(ctx, otherID)
	if err != nil {
		return nil, s.internal("failed to load user", err, "user_id", otherID)
	}
	if other == nil {
		return nil, domain.ErrUserNotFound
	}
	return s.resolveConversation(ctx, SendInput{SenderID: userID, ReceiverID: otherID})
}

// ListConversations returns the user's conversations, newest activity
// first, each with the other participant's presence.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]domain.ConversationView, error) {
	conversations, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, s.internal("failed to list conversations", err, "user_id", userID)
	}
	return lo.Map(conversations, func(conv domain.Conversation, _ int) domain.ConversationView {
		if conv.LastMessage != nil {
			conv.LastMessage = tombstone(*conv.LastMessage)
		}
		other := conv.Participants.Other(userID)
		return domain.ConversationView{
			Conversation:     conv,
			OtherParticipant: other,
			OtherPresence:    s.hub.Registry.Presence(other),
		}
	}), nil
}

// History returns one page of messages, oldest first, and applies the read
// transition for the caller.
func (s *Service) History(ctx context.Context, userID, conversationID string, page, limit int) (*domain.MessagePage, error) {
	conv, err := s.conversationFor(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = s.config.HistoryPageSize
	}
	limit = min(limit, maxHistoryPageSize)

	messages, total, err := s.store.ListMessages(ctx, conv.ID, limit, (page-1)*limit)
	if err != nil {
		return nil, s.internal("failed to list messages", err, "conversation_id", conv.ID)
	}

	flipped, err := s.markRead(ctx, conv, userID)
	if err != nil {
		return nil, err
	}

	messages = lo.Map(messages, func(m domain.Message, _ int) domain.Message {
		if flipped > 0 && m.ReceiverID == userID {
			m.IsRead = true
		}
		return *tombstone(m)
	})
	totalPages := (total + limit - 1) / limit
	return &domain.MessagePage{
		Messages:    messages,
		CurrentPage: page,
		TotalPages:  totalPages,
		Total:       total,
		HasMore:     page < totalPages,
		MarkedRead:  flipped,
	}, nil
}

// MarkRead flips every unread message addressed to userID in the
// conversation and resets its unread count. Repeating it is a no-op.
func (s *Service) MarkRead(ctx context.Context, userID, conversationID string) (int, error) {
	conv, err := s.conversationFor(ctx, userID, conversationID)
	if err != nil {
		return 0, err
	}
	return s.markRead(ctx, conv, userID)
}

func (s *Service) markRead(ctx context.Context, conv *domain.Conversation, userID string) (int, error) {
	flipped, err := s.store.MarkRead(ctx, conv.ID, userID, s.now().UTC())
	if err != nil {
		return 0, s.internal("failed to mark conversation read", err, "conversation_id", conv.ID)
	}
	if flipped > 0 {
		s.relay(conv, userID, protocol.MessagesReadMessage{
			BaseMessage:    protocol.NewBase(protocol.TypeMessagesRead),
			ConversationID: conv.ID,
			UserID:         userID,
			Count:          flipped,
		})
	}
	return flipped, nil
}

// DeleteMessage tombstones a message. Only its sender may delete it and a
// second delete returns the existing tombstone.
func (s *Service) DeleteMessage(ctx context.Context, userID, messageID string) (*domain.Message, error) {
	if messageID == "" {
		return nil, domain.InvalidArgument("message_id is required")
	}
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, s.internal("failed to load message", err, "message_id", messageID)
	}
	if msg == nil {
		return nil, domain.ErrMessageNotFound
	}
	if msg.SenderID != userID {
		return nil, domain.ErrNotSender
	}
	if msg.Deleted() {
		return tombstone(*msg), nil
	}

	at := s.now().UTC()
	ok, err := s.store.SoftDeleteMessage(ctx, messageID, userID, at)
	if err != nil {
		return nil, s.internal("failed to delete message", err, "message_id", messageID)
	}
	if !ok {
		// A concurrent delete won; it has already relayed.
		current, err := s.store.GetMessage(ctx, messageID)
		if err != nil {
			return nil, s.internal("failed to reload message", err, "message_id", messageID)
		}
		if current == nil || !current.Deleted() {
			return nil, domain.ErrMessageNotFound
		}
		return tombstone(*current), nil
	}
	msg.DeletedAt = &at
	msg.DeletedBy = userID

	conv, err := s.store.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		s.log.Warn("Failed to load conversation for delete relay", "conversation_id", msg.ConversationID, "error", err)
	}
	if conv != nil {
		s.relay(conv, userID, protocol.MessageDeletedMessage{
			BaseMessage:    protocol.NewBase(protocol.TypeMessageDeleted),
			MessageID:      msg.ID,
			ConversationID: msg.ConversationID,
			UserID:         userID,
		})
	}
	return tombstone(*msg), nil
}

// DeleteConversation removes a conversation and all its messages, and
// dissolves its room.
func (s *Service) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	conv, err := s.conversationFor(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	deleted, err := s.store.DeleteConversation(ctx, conv.ID)
	if err != nil {
		return s.internal("failed to delete conversation", err, "conversation_id", conv.ID)
	}
	if !deleted {
		return domain.ErrConversationNotFound
	}

	event := protocol.ConversationDeletedMessage{
		BaseMessage:    protocol.NewBase(protocol.TypeConversationDeleted),
		ConversationID: conv.ID,
		UserID:         userID,
	}
	s.relay(conv, userID, event)
	s.hub.Rooms.Drop(conv.ID)
	s.log.Info("Conversation deleted", "conversation_id", conv.ID, "user_id", userID)
	return nil
}

// relay delivers an ephemeral event to the conversation room, excluding
// the acting user, and directly to the other participant when they are
// online but outside the room.
func (s *Service) relay(conv *domain.Conversation, actorID string, event any) {
	if _, err := s.hub.BroadcastRoom(conv.ID, event, actorID); err != nil {
		s.log.Warn("Room relay failed", "conversation_id", conv.ID, "error", err)
	}
	other := conv.Participants.Other(actorID)
	if other == actorID || s.hub.InRoom(other, conv.ID) {
		return
	}
	if _, err := s.hub.SendToUser(other, event); err != nil {
		s.log.Debug("Direct relay dropped", "user_id", other, "error", err)
	}
}

// tombstone hides the body of a deleted message.
func tombstone(m domain.Message) *domain.Message {
	if m.Deleted() {
		m.Body = ""
		m.AttachmentURL = ""
	}
	return &m
}

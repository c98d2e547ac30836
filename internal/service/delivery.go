package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/xiaot623/chatline/internal/domain"
	"github.com/xiaot623/chatline/internal/hub"
	"github.com/xiaot623/chatline/internal/notify"
	"github.com/xiaot623/chatline/internal/policy"
	"github.com/xiaot623/chatline/internal/protocol"
)

// previewLength bounds the body excerpt handed to the push pipeline.
const previewLength = 80

// SendInput is a send intent. Origin is the sender's connection when the
// intent arrived over the socket, nil for REST.
type SendInput struct {
	SenderID       string
	ReceiverID     string
	ConversationID string
	Body           string
	AttachmentURL  string
	TempID         string
	Origin         *hub.Connection
}

// SendMessage runs a send intent through its stages in order: validate,
// resolve the conversation, persist, update the summary, then fan out to
// the sender, the room and the receiver. Nothing is delivered unless the
// message is durably stored.
func (s *Service) SendMessage(ctx context.Context, in SendInput) (*domain.Message, error) {
	body := strings.TrimSpace(in.Body)
	if err := s.validateSend(ctx, in, body); err != nil {
		return nil, err
	}

	conv, err := s.resolveConversation(ctx, in)
	if err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		SenderID:       in.SenderID,
		ReceiverID:     in.ReceiverID,
		Body:           body,
		AttachmentURL:  in.AttachmentURL,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.persist(ctx, msg); err != nil {
		return nil, err
	}
	s.updateSummary(ctx, conv, msg)

	if in.Origin != nil {
		if err := s.hub.SendJSONToConnection(in.Origin, protocol.MessageAckMessage{
			BaseMessage: protocol.NewBase(protocol.TypeMessageAck),
			TempID:      in.TempID,
			Message:     msg,
		}); err != nil {
			s.log.Debug("Ack dropped", "message_id", msg.ID, "connection_id", in.Origin.ID, "error", err)
		}
	}

	if _, err := s.hub.BroadcastRoom(conv.ID, protocol.NewMessageMessage{
		BaseMessage: protocol.NewBase(protocol.TypeNewMessage),
		Message:     msg,
	}, in.SenderID); err != nil {
		s.log.Warn("Room broadcast failed", "conversation_id", conv.ID, "error", err)
	}

	s.notifyReceiver(ctx, conv, msg)
	return msg, nil
}

func (s *Service) validateSend(ctx context.Context, in SendInput, body string) error {
	if in.SenderID == "" {
		return domain.Unauthenticated("sender is required")
	}
	if in.ReceiverID == "" {
		return domain.InvalidArgument("receiver_id is required")
	}
	if in.ReceiverID == in.SenderID {
		return domain.ErrSelfMessage
	}
	if body == "" {
		return domain.ErrEmptyBody
	}

	if s.policyEngine != nil {
		length := utf8.RuneCountInString(body)
		decision, reason, err := s.policyEngine.Evaluate(ctx, policy.SendInput{
			SenderID:      in.SenderID,
			ReceiverID:    in.ReceiverID,
			BodyLength:    length,
			MaxBodyLength: s.config.MaxBodyLength,
			HasAttachment: in.AttachmentURL != "",
			NewContact:    in.ConversationID == "",
		})
		if err != nil {
			return s.internal("failed to evaluate send policy", err, "sender_id", in.SenderID)
		}
		if decision == policy.DecisionBlock {
			if reason == "" && s.config.MaxBodyLength > 0 && length > s.config.MaxBodyLength {
				return domain.ErrBodyTooLong
			}
			if reason == "" {
				reason = "blocked"
			}
			return domain.InvalidArgument("message rejected by policy: " + reason)
		}
	}

	receiver, err := s.store.GetUser(ctx, in.ReceiverID)
	if err != nil {
		return s.internal("failed to load receiver", err, "receiver_id", in.ReceiverID)
	}
	if receiver == nil {
		return domain.ErrUserNotFound
	}
	return nil
}

// resolveConversation checks a supplied conversation or finds-or-creates
// the one for the participant pair. The store's unique pair constraint
// makes concurrent first contact converge on a single conversation.
func (s *Service) resolveConversation(ctx context.Context, in SendInput) (*domain.Conversation, error) {
	if in.ConversationID != "" {
		conv, err := s.conversationFor(ctx, in.SenderID, in.ConversationID)
		if err != nil {
			return nil, err
		}
		if !conv.Participants.Has(in.ReceiverID) {
			return nil, domain.ErrReceiverMismatch
		}
		return conv, nil
	}

	pair := domain.NewPair(in.SenderID, in.ReceiverID)
	conv, err := s.store.FindConversationByParticipants(ctx, pair)
	if err != nil {
		return nil, s.internal("failed to find conversation", err, "pair", pair.String())
	}
	if conv != nil {
		return conv, nil
	}
	conv, err = s.store.CreateConversation(ctx, pair)
	if err != nil {
		return nil, s.internal("failed to create conversation", err, "pair", pair.String())
	}
	s.log.Info("Conversation created", "conversation_id", conv.ID, "pair", pair.String())
	return conv, nil
}

func (s *Service) persist(ctx context.Context, msg *domain.Message) error {
	pctx, cancel := s.persistContext(ctx)
	defer cancel()
	if err := s.store.CreateMessage(pctx, msg); err != nil {
		return s.internal("failed to persist message", err,
			"conversation_id", msg.ConversationID, "sender_id", msg.SenderID)
	}
	return nil
}

// updateSummary moves lastMessage and the unread counter. A failure leaves
// the summary stale but the message valid, so it is only logged.
func (s *Service) updateSummary(ctx context.Context, conv *domain.Conversation, msg *domain.Message) {
	pctx, cancel := s.persistContext(ctx)
	defer cancel()
	if err := s.store.UpdateConversationSummary(pctx, conv.ID, msg.ID, 1, msg.CreatedAt); err != nil {
		stale := domain.Stale("conversation summary not updated", err)
		s.log.Warn("Conversation summary is stale",
			"conversation_id", conv.ID, "message_id", msg.ID, "error", stale)
		return
	}
	conv.LastMessageID = msg.ID
	conv.LastMessage = msg
	conv.UnreadCount++
	conv.UpdatedAt = msg.CreatedAt
}

// notifyReceiver reaches a receiver who is not watching the room: a live
// connection gets a notification with a fresh unread count, an offline
// receiver is handed to the push pipeline.
func (s *Service) notifyReceiver(ctx context.Context, conv *domain.Conversation, msg *domain.Message) {
	conn, online := s.hub.Registry.Lookup(msg.ReceiverID)
	if online && s.hub.Rooms.IsMember(conn.ID, conv.ID) {
		return
	}

	ctx = context.WithoutCancel(ctx)
	unread, err := s.store.GetUnreadCount(ctx, conv.ID)
	if err != nil {
		s.log.Warn("Failed to read unread count", "conversation_id", conv.ID, "error", err)
		unread = conv.UnreadCount
	}

	if online {
		if err := s.hub.SendJSONToConnection(conn, protocol.NewMessageNotification{
			BaseMessage:    protocol.NewBase(protocol.TypeNewMessageNotification),
			ConversationID: conv.ID,
			Message:        msg,
			UnreadCount:    unread,
		}); err != nil {
			s.log.Debug("Notification dropped", "user_id", msg.ReceiverID, "error", err)
		}
		return
	}

	if err := s.notifier.NotifyOffline(ctx, notify.OfflineNotification{
		UserID:         msg.ReceiverID,
		SenderID:       msg.SenderID,
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		Preview:        msg.Preview(previewLength),
		UnreadCount:    unread,
		CreatedAt:      msg.CreatedAt,
	}); err != nil {
		s.log.Warn("Offline notification not enqueued", "user_id", msg.ReceiverID, "message_id", msg.ID, "error", err)
	}
}

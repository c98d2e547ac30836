package service

import (
	"context"

	"github.com/xiaot623/chatline/internal/domain"
	"github.com/xiaot623/chatline/internal/hub"
	"github.com/xiaot623/chatline/internal/protocol"
)

// JoinRoom adds conn to the room of a conversation its user participates in.
func (s *Service) JoinRoom(ctx context.Context, conn *hub.Connection, roomID string) error {
	conv, err := s.conversationFor(ctx, conn.UserID, roomID)
	if err != nil {
		return err
	}
	if s.hub.Rooms.Join(conn, conv.ID, conv.Participants) {
		s.log.Debug("Room joined", "room_id", conv.ID, "user_id", conn.UserID, "connection_id", conn.ID)
	}
	return nil
}

// LeaveRoom removes conn from roomID. Leaving a room never joined is a no-op.
func (s *Service) LeaveRoom(conn *hub.Connection, roomID string) {
	if s.hub.Rooms.Leave(conn.ID, roomID) {
		s.log.Debug("Room left", "room_id", roomID, "user_id", conn.UserID, "connection_id", conn.ID)
	}
}

// Typing relays a typing signal to the other members of roomID and
// directly to receiverID when they are online outside the room. The
// receiver must be the other participant of the room's conversation.
// Nothing is persisted or acknowledged and rapid toggles may arrive
// coalesced or out of order.
func (s *Service) Typing(conn *hub.Connection, receiverID, roomID string, isTyping bool) error {
	if receiverID == conn.UserID {
		return domain.ErrSelfMessage
	}
	participants, ok := s.hub.Rooms.Participants(roomID)
	if !ok || !s.hub.Rooms.IsMember(conn.ID, roomID) {
		return domain.Forbidden("join the room before sending typing signals")
	}
	if receiverID != "" && participants.Other(conn.UserID) != receiverID {
		return domain.ErrReceiverMismatch
	}

	event := protocol.TypingChangedMessage{
		BaseMessage: protocol.NewBase(protocol.TypeTypingChanged),
		UserID:      conn.UserID,
		RoomID:      roomID,
		IsTyping:    isTyping,
	}
	if _, err := s.hub.BroadcastRoom(roomID, event, conn.UserID); err != nil {
		return s.internal("failed to relay typing", err, "room_id", roomID)
	}
	if receiverID != "" && !s.hub.InRoom(receiverID, roomID) {
		if _, err := s.hub.SendToUser(receiverID, event); err != nil {
			s.log.Debug("Typing delivery dropped", "user_id", receiverID, "error", err)
		}
	}
	return nil
}

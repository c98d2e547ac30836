// Package protocol defines the WebSocket event surface between chat clients
// and the gateway.
package protocol

import (
	"time"

	"github.com/xiaot623/chatline/internal/domain"
)

// Client -> Server event types
const (
	TypeJoinRoom      = "join_room"
	TypeLeaveRoom     = "leave_room"
	TypeSendMessage   = "send_message"
	TypeTyping        = "typing"
	TypeMarkRead      = "mark_read"
	TypeDeleteMessage = "delete_message"
	TypeHeartbeat     = "heartbeat"
)

// Server -> Client event types
const (
	TypeConnected              = "connected"
	TypeRoomJoined             = "room_joined"
	TypeRoomLeft               = "room_left"
	TypeMessageAck             = "message_ack"
	TypeNewMessage             = "new_message"
	TypeNewMessageNotification = "new_message_notification"
	TypePresenceChanged        = "presence_changed"
	TypeTypingChanged          = "typing_changed"
	TypeMessagesRead           = "messages_read"
	TypeMessageDeleted         = "message_deleted"
	TypeConversationDeleted    = "conversation_deleted"
	TypeMessageError           = "message_error"
	TypeError                  = "error"
	TypeForcedDisconnect       = "forced_disconnect"
)

// Error codes
const (
	ErrorCodeInvalidMessage  = "invalid_message"
	ErrorCodeInvalidArgument = string(domain.KindInvalidArgument)
	ErrorCodeForbidden       = string(domain.KindForbidden)
	ErrorCodeNotFound        = string(domain.KindNotFound)
	ErrorCodeInternal        = string(domain.KindInternal)
	ErrorCodeUnauthenticated = string(domain.KindUnauthenticated)
)

// Close codes in the private 4000-4999 range.
const (
	CloseSessionReplaced = 4001
	CloseShuttingDown    = 4002
	CloseSlowConsumer    = 4003
)

// BaseMessage contains common fields for all events.
type BaseMessage struct {
	Type      string `json:"type" validate:"required"`
	Ts        int64  `json:"ts"`
	RequestID string `json:"request_id,omitempty"`
}

// NewBase stamps an outbound event header.
func NewBase(eventType string) BaseMessage {
	return BaseMessage{Type: eventType, Ts: time.Now().UnixMilli()}
}

// ============ Client -> Server ============

type JoinRoomMessage struct {
	BaseMessage
	RoomID string `json:"room_id" validate:"required,max=128"`
}

type LeaveRoomMessage struct {
	BaseMessage
	RoomID string `json:"room_id" validate:"required,max=128"`
}

// SendMessageMessage is a send intent. ConversationID is optional: without
// it the conversation is found or created from the participant pair.
type SendMessageMessage struct {
	BaseMessage
	ReceiverID     string `json:"receiver_id" validate:"required,max=128"`
	ConversationID string `json:"conversation_id,omitempty" validate:"omitempty,max=128"`
	Body           string `json:"body"`
	AttachmentURL  string `json:"attachment_url,omitempty" validate:"omitempty,url"`
	TempID         string `json:"temp_id,omitempty" validate:"omitempty,max=128"`
}

type TypingMessage struct {
	BaseMessage
	ReceiverID string `json:"receiver_id" validate:"required,max=128"`
	RoomID     string `json:"room_id" validate:"required,max=128"`
	IsTyping   bool   `json:"is_typing"`
}

type MarkReadMessage struct {
	BaseMessage
	ConversationID string `json:"conversation_id" validate:"required,max=128"`
}

type DeleteMessageMessage struct {
	BaseMessage
	MessageID string `json:"message_id" validate:"required,max=128"`
}

// HeartbeatMessage travels both ways.
type HeartbeatMessage struct {
	BaseMessage
}

// ============ Server -> Client ============

type ConnectedMessage struct {
	BaseMessage
	UserID       string   `json:"user_id"`
	ConnectionID string   `json:"connection_id"`
	OnlineUsers  []string `json:"online_users"`
}

type RoomJoinedMessage struct {
	BaseMessage
	RoomID string `json:"room_id"`
}

type RoomLeftMessage struct {
	BaseMessage
	RoomID string `json:"room_id"`
}

// MessageAckMessage echoes the client temp id with the persisted message.
type MessageAckMessage struct {
	BaseMessage
	TempID  string          `json:"temp_id,omitempty"`
	Message *domain.Message `json:"message"`
}

type NewMessageMessage struct {
	BaseMessage
	Message *domain.Message `json:"message"`
}

// NewMessageNotification reaches a receiver who is online but outside the room.
type NewMessageNotification struct {
	BaseMessage
	ConversationID string          `json:"conversation_id"`
	Message        *domain.Message `json:"message"`
	UnreadCount    int             `json:"unread_count"`
}

type PresenceChangedMessage struct {
	BaseMessage
	UserID     string     `json:"user_id"`
	Online     bool       `json:"online"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

type TypingChangedMessage struct {
	BaseMessage
	UserID   string `json:"user_id"`
	RoomID   string `json:"room_id"`
	IsTyping bool   `json:"is_typing"`
}

type MessagesReadMessage struct {
	BaseMessage
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Count          int    `json:"count"`
}

type MessageDeletedMessage struct {
	BaseMessage
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

type ConversationDeletedMessage struct {
	BaseMessage
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// MessageErrorMessage reports a failed send so the client can mark its
// optimistic copy as failed.
type MessageErrorMessage struct {
	BaseMessage
	TempID  string `json:"temp_id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ForcedDisconnectMessage struct {
	BaseMessage
	Reason string `json:"reason"`
}

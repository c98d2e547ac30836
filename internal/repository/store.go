//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_store.go -package=mocks

// Package repository defines the durable store boundary and its SQLite
// implementation.
package repository

import (
	"context"
	"time"

	"github.com/xiaot623/chatline/internal/domain"
)

// Store persists users, conversations and messages. Lookups that find
// nothing return a nil result and a nil error.
type Store interface {
	// User operations
	CreateUser(ctx context.Context, user *domain.User) error
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// Conversation operations
	FindConversationByParticipants(ctx context.Context, pair domain.Pair) (*domain.Conversation, error)
	// CreateConversation is safe under concurrent duplicate calls: a second
	// create for the same pair returns the existing row.
	CreateConversation(ctx context.Context, pair domain.Pair) (*domain.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error)
	DeleteConversation(ctx context.Context, conversationID string) (bool, error)
	ListContacts(ctx context.Context, userID string) ([]string, error)

	// Conversation summary
	UpdateConversationSummary(ctx context.Context, conversationID, lastMessageID string, delta int, at time.Time) error
	IncrementUnread(ctx context.Context, conversationID string, delta int) error
	GetUnreadCount(ctx context.Context, conversationID string) (int, error)
	MarkRead(ctx context.Context, conversationID, userID string, at time.Time) (int, error)

	// Message operations
	CreateMessage(ctx context.Context, message *domain.Message) error
	GetMessage(ctx context.Context, messageID string) (*domain.Message, error)
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]domain.Message, int, error)
	SoftDeleteMessage(ctx context.Context, messageID, userID string, at time.Time) (bool, error)

	// Lifecycle
	Close() error
}

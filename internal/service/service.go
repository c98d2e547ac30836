// Package service implements the chat core: session lifecycle, the message
// delivery engine, presence and the typing/read-receipt relay.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/xiaot623/chatline/internal/auth"
	"github.com/xiaot623/chatline/internal/config"
	"github.com/xiaot623/chatline/internal/domain"
	"github.com/xiaot623/chatline/internal/hub"
	"github.com/xiaot623/chatline/internal/notify"
	"github.com/xiaot623/chatline/internal/policy"
	"github.com/xiaot623/chatline/internal/repository"
)

type Service struct {
	store        repository.Store
	hub          *hub.Hub
	notifier     notify.Notifier
	policyEngine *policy.Engine
	tokens       *auth.Issuer
	config       *config.Config
	log          *slog.Logger
	now          func() time.Time
}

func New(
	store repository.Store,
	h *hub.Hub,
	notifier notify.Notifier,
	policyEngine *policy.Engine,
	tokens *auth.Issuer,
	cfg *config.Config,
	log *slog.Logger,
) *Service {
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &Service{
		store:        store,
		hub:          h,
		notifier:     notifier,
		policyEngine: policyEngine,
		tokens:       tokens,
		config:       cfg,
		log:          log,
		now:          time.Now,
	}
}

// Hub exposes the live connection state to transports.
func (s *Service) Hub() *hub.Hub {
	return s.hub
}

// internal wraps a store failure and logs it once.
func (s *Service) internal(msg string, err error, attrs ...any) error {
	s.log.Error(msg, append(attrs, "error", err)...)
	return domain.Internal(msg, err)
}

// persistContext bounds a persistence stage. The parent's cancellation is
// dropped so a disconnect does not abort an accepted send.
func (s *Service) persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if s.config.PersistTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.config.PersistTimeout)
}

// conversationFor loads a conversation and checks userID participates.
func (s *Service) conversationFor(ctx context.Context, userID, conversationID string) (*domain.Conversation, error) {
	if conversationID == "" {
		return nil, domain.InvalidArgument("conversation_id is required")
	}
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, s.internal("failed to load conversation", err, "conversation_id", conversationID)
	}
	if conv == nil {
		return nil, domain.ErrConversationNotFound
	}
	if !conv.Participants.Has(userID) {
		return nil, domain.ErrNotParticipant
	}
	return conv, nil
}

// Stats reports live connection and room counts.
func (s *Service) Stats() (connections, rooms int) {
	return s.hub.GetConnectionCount(), s.hub.GetRoomCount()
}

package service

import (
	"context"
	"time"

	"github.com/samber/lo"

	"github.com/xiaot623/chatline/internal/domain"
	"github.com/xiaot623/chatline/internal/hub"
	"github.com/xiaot623/chatline/internal/protocol"
)

// Authenticate verifies a connect token and checks the user exists.
func (s *Service) Authenticate(ctx context.Context, token string) (string, error) {
	userID, err := s.tokens.Verify(token)
	if err != nil {
		s.log.Debug("Token rejected", "error", err)
		return "", domain.ErrInvalidToken
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return "", s.internal("failed to load user", err, "user_id", userID)
	}
	if user == nil {
		return "", domain.Unauthenticated("unknown user")
	}
	return userID, nil
}

// RegisterUser creates or refreshes a user and issues an access token.
func (s *Service) RegisterUser(ctx context.Context, userID, username string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, domain.InvalidArgument("user_id is required")
	}
	if err := s.store.CreateUser(ctx, &domain.User{ID: userID, Username: username}); err != nil {
		return "", time.Time{}, s.internal("failed to create user", err, "user_id", userID)
	}
	token, expiresAt, err := s.tokens.Issue(userID)
	if err != nil {
		return "", time.Time{}, s.internal("failed to issue token", err, "user_id", userID)
	}
	return token, expiresAt, nil
}

// Connect installs conn as the user's live connection, greets it and
// announces the user to online contacts. A replaced connection loses its
// rooms immediately.
func (s *Service) Connect(ctx context.Context, conn *hub.Connection) {
	evicted := s.hub.Registry.Register(conn)
	if evicted != nil {
		s.hub.Rooms.LeaveAll(evicted.ID)
	}

	contacts := s.contacts(ctx, conn.UserID)
	online := lo.Filter(contacts, func(id string, _ int) bool {
		return s.hub.Registry.IsOnline(id)
	})
	if err := s.hub.SendJSONToConnection(conn, protocol.ConnectedMessage{
		BaseMessage:  protocol.NewBase(protocol.TypeConnected),
		UserID:       conn.UserID,
		ConnectionID: conn.ID,
		OnlineUsers:  online,
	}); err != nil {
		s.log.Debug("Failed to greet connection", "connection_id", conn.ID, "error", err)
	}

	// A replacement keeps the user online, so there is no transition to announce.
	if evicted == nil {
		s.announcePresence(conn.UserID, contacts, true, nil)
	}
	s.log.Info("User connected", "user_id", conn.UserID, "connection_id", conn.ID, "replaced", evicted != nil)
}

// Disconnect removes every trace of conn. It is safe to call more than once
// and after the connection was replaced.
func (s *Service) Disconnect(ctx context.Context, conn *hub.Connection) {
	s.hub.Rooms.LeaveAll(conn.ID)
	userID, lastSeen, wentOffline := s.hub.Registry.Unregister(conn.ID)
	if !wentOffline {
		return
	}
	s.announcePresence(userID, s.contacts(ctx, userID), false, &lastSeen)
	s.log.Info("User disconnected", "user_id", userID, "connection_id", conn.ID)
}

// Presence returns the advisory presence of a user.
func (s *Service) Presence(userID string) domain.Presence {
	return s.hub.Registry.Presence(userID)
}

// OnlineUsers lists users with a live connection.
func (s *Service) OnlineUsers() []string {
	return s.hub.Registry.OnlineUsers()
}

// contacts returns the users sharing a conversation with userID. Failures
// yield no contacts since presence is advisory.
func (s *Service) contacts(ctx context.Context, userID string) []string {
	ids, err := s.store.ListContacts(ctx, userID)
	if err != nil {
		s.log.Warn("Failed to load contacts for presence", "user_id", userID, "error", err)
		return nil
	}
	return lo.Uniq(ids)
}

// announcePresence is fire-and-forget: offline contacts and failed
// deliveries are skipped.
func (s *Service) announcePresence(userID string, contacts []string, online bool, lastSeen *time.Time) {
	event := protocol.PresenceChangedMessage{
		BaseMessage: protocol.NewBase(protocol.TypePresenceChanged),
		UserID:      userID,
		Online:      online,
		LastSeenAt:  lastSeen,
	}
	for _, contact := range contacts {
		if _, err := s.hub.SendToUser(contact, event); err != nil {
			s.log.Debug("Presence delivery dropped", "user_id", userID, "contact", contact, "error", err)
		}
	}
}

// PushToUser forwards an arbitrary event from an internal collaborator to
// the user's live connection.
func (s *Service) PushToUser(userID string, event map[string]any) (bool, error) {
	if userID == "" {
		return false, domain.InvalidArgument("user_id is required")
	}
	if event == nil {
		return false, domain.InvalidArgument("event is required")
	}
	if _, ok := event["type"]; !ok {
		return false, domain.InvalidArgument("event type is required")
	}
	if _, ok := event["ts"]; !ok {
		event["ts"] = s.now().UnixMilli()
	}
	delivered, err := s.hub.SendToUser(userID, event)
	if err != nil {
		s.log.Warn("Push delivery failed", "user_id", userID, "error", err)
		return false, nil
	}
	return delivered, nil
}

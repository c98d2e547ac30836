package hub

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/xiaot623/chatline/internal/domain"
	"github.com/xiaot623/chatline/internal/protocol"
)

// Registry maps each user to at most one live connection and tracks
// presence. Both directions of the mapping change under one lock.
type Registry struct {
	mu       sync.RWMutex
	byUser   map[string]*Connection
	byConn   map[string]*Connection
	lastSeen map[string]time.Time
	now      func() time.Time
	log      *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		byUser:   make(map[string]*Connection),
		byConn:   make(map[string]*Connection),
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
		log:      log,
	}
}

// Register installs conn as the user's live connection. A previous live
// connection for the same user is dropped from both maps, sent a
// forced_disconnect event and evicted. The evicted connection is returned.
func (r *Registry) Register(conn *Connection) *Connection {
	r.mu.Lock()
	prev := r.byUser[conn.UserID]
	if prev == conn {
		r.mu.Unlock()
		return nil
	}
	if prev != nil {
		delete(r.byConn, prev.ID)
	}
	r.byUser[conn.UserID] = conn
	r.byConn[conn.ID] = conn
	r.mu.Unlock()

	if prev == nil {
		r.log.Debug("Connection registered", "user_id", conn.UserID, "connection_id", conn.ID)
		return nil
	}

	data, err := json.Marshal(protocol.ForcedDisconnectMessage{
		BaseMessage: protocol.NewBase(protocol.TypeForcedDisconnect),
		Reason:      "session replaced",
	})
	if err == nil {
		_ = prev.Enqueue(data)
	}
	prev.Evict(protocol.CloseSessionReplaced, "session replaced")
	r.log.Info("Connection replaced",
		"user_id", conn.UserID, "connection_id", conn.ID, "evicted_connection_id", prev.ID)
	return prev
}

// Unregister removes the connection from both maps. It reports whether the
// user went offline, which is false when the connection was already gone or
// had been replaced. Repeated calls are no-ops.
func (r *Registry) Unregister(connID string) (userID string, lastSeen time.Time, wentOffline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.byConn[connID]
	if !ok {
		return "", time.Time{}, false
	}
	delete(r.byConn, connID)
	if r.byUser[conn.UserID] != conn {
		return conn.UserID, time.Time{}, false
	}
	delete(r.byUser, conn.UserID)
	lastSeen = r.now().UTC()
	r.lastSeen[conn.UserID] = lastSeen
	return conn.UserID, lastSeen, true
}

// Lookup returns the user's live connection, if any.
func (r *Registry) Lookup(userID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byUser[userID]
	return conn, ok
}

// Connection returns a registered connection by id.
func (r *Registry) Connection(connID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byConn[connID]
	return conn, ok
}

func (r *Registry) IsOnline(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// Presence returns the advisory presence of userID. LastSeenAt is nil for
// users that never disconnected during this process lifetime.
func (r *Registry) Presence(userID string) domain.Presence {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p := domain.Presence{UserID: userID}
	if _, ok := r.byUser[userID]; ok {
		p.Online = true
	}
	if seen, ok := r.lastSeen[userID]; ok {
		p.LastSeenAt = lo.ToPtr(seen)
	}
	return p
}

// OnlineUsers returns the ids of all users with a live connection, sorted.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	users := lo.Keys(r.byUser)
	r.mu.RUnlock()
	sort.Strings(users)
	return users
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

// CloseAll evicts every live connection and empties the registry.
func (r *Registry) CloseAll(code int, reason string) int {
	r.mu.Lock()
	conns := lo.Values(r.byConn)
	now := r.now().UTC()
	for userID := range r.byUser {
		r.lastSeen[userID] = now
	}
	r.byUser = make(map[string]*Connection)
	r.byConn = make(map[string]*Connection)
	r.mu.Unlock()

	for _, conn := range conns {
		conn.Evict(code, reason)
	}
	return len(conns)
}

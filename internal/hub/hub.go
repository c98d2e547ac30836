package hub

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/xiaot623/chatline/internal/protocol"
)

// Hub combines the session registry and the room tracker and fans events
// out to live connections. It never blocks on a slow consumer.
type Hub struct {
	Registry *Registry
	Rooms    *Rooms
	log      *slog.Logger
}

// NewHub creates a Hub with an empty registry and room tracker.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		Registry: NewRegistry(log),
		Rooms:    NewRooms(),
		log:      log,
	}
}

// SendToConnection queues raw data on conn. A full buffer evicts the
// connection as a slow consumer.
func (h *Hub) SendToConnection(conn *Connection, data []byte) error {
	err := conn.Enqueue(data)
	if errors.Is(err, ErrBufferFull) {
		h.log.Warn("Connection buffer full, closing", "connection_id", conn.ID, "user_id", conn.UserID)
		conn.Evict(protocol.CloseSlowConsumer, "send buffer full")
	}
	return err
}

// SendJSONToConnection sends a JSON message to a specific connection.
func (h *Hub) SendJSONToConnection(conn *Connection, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.SendToConnection(conn, data)
}

// SendToUser delivers v to the user's live connection. It reports false
// when the user is offline.
func (h *Hub) SendToUser(userID string, v any) (bool, error) {
	conn, ok := h.Registry.Lookup(userID)
	if !ok {
		return false, nil
	}
	if err := h.SendJSONToConnection(conn, v); err != nil {
		return false, err
	}
	return true, nil
}

// BroadcastRoom delivers v to every connection in roomID except those of
// excludeUserID, and returns the number of connections reached.
func (h *Hub) BroadcastRoom(roomID string, v any, excludeUserID string) (int, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, conn := range h.Rooms.connections(roomID) {
		if excludeUserID != "" && conn.UserID == excludeUserID {
			continue
		}
		if err := h.SendToConnection(conn, data); err != nil {
			h.log.Debug("Room delivery dropped", "room_id", roomID, "connection_id", conn.ID, "error", err)
			continue
		}
		delivered++
	}
	return delivered, nil
}

// InRoom reports whether the user's live connection has joined roomID.
func (h *Hub) InRoom(userID, roomID string) bool {
	conn, ok := h.Registry.Lookup(userID)
	if !ok {
		return false
	}
	return h.Rooms.IsMember(conn.ID, roomID)
}

// GetConnectionCount returns the number of active connections.
func (h *Hub) GetConnectionCount() int {
	return h.Registry.Count()
}

// GetRoomCount returns the number of non-empty rooms.
func (h *Hub) GetRoomCount() int {
	return h.Rooms.Count()
}

// Shutdown evicts every live connection.
func (h *Hub) Shutdown() int {
	return h.Registry.CloseAll(protocol.CloseShuttingDown, "server shutting down")
}

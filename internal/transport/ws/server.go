// Package ws is the connection gateway: it authenticates socket upgrades,
// pumps frames in both directions and routes inbound events to the service.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/chatline/internal/auth"
	"github.com/xiaot623/chatline/internal/config"
	"github.com/xiaot623/chatline/internal/domain"
	"github.com/xiaot623/chatline/internal/hub"
	"github.com/xiaot623/chatline/internal/protocol"
	"github.com/xiaot623/chatline/internal/service"
)

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	svc      *service.Service
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, svc *service.Service, log *slog.Logger) *Server {
	return &Server{
		cfg: cfg,
		svc: svc,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Browser clients are served from other origins; the token is the gate.
				return true
			},
		},
	}
}

// HandleWebSocket authenticates the request, upgrades it and starts the
// connection pumps. Nothing is registered when authentication fails.
func (s *Server) HandleWebSocket(c echo.Context) error {
	req := c.Request()
	userID, err := s.svc.Authenticate(req.Context(), auth.TokenFromRequest(req))
	if err != nil {
		status := http.StatusUnauthorized
		if domain.KindOf(err) == domain.KindInternal {
			status = http.StatusInternalServerError
		}
		return c.JSON(status, map[string]string{
			"error": domain.MessageOf(err),
			"code":  string(domain.KindOf(err)),
		})
	}

	ws, err := s.upgrader.Upgrade(c.Response(), req, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		s.log.Warn("Failed to upgrade WebSocket", "user_id", userID, "error", err)
		return nil
	}
	ws.SetReadLimit(s.cfg.MaxMessageSize)

	conn := hub.NewConnection(userID, ws, s.cfg.SendBufferSize)
	s.svc.Connect(context.Background(), conn)

	go s.writePump(conn)
	go s.readPump(conn)
	return nil
}

// readPump reads events until the socket fails, then tears the session down.
func (s *Server) readPump(conn *hub.Connection) {
	defer func() {
		s.svc.Disconnect(context.Background(), conn)
		conn.Evict(websocket.CloseNormalClosure, "")
	}()

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) && !conn.Evicted() {
				s.log.Info("WebSocket read failed", "user_id", conn.UserID, "connection_id", conn.ID, "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.handleMessage(conn, message)
	}
}

// writePump owns every write to the socket. After eviction it flushes what
// is already queued and closes with the eviction code.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message := <-conn.Send:
			if err := s.write(conn, message); err != nil {
				s.log.Debug("Failed to write message", "connection_id", conn.ID, "error", err)
				conn.Evict(websocket.CloseAbnormalClosure, "write failed")
				return
			}

		case <-conn.Done():
			code, reason := conn.CloseStatus()
			if code != protocol.CloseSlowConsumer {
				s.drain(conn)
			}
			if err := conn.WriteClose(code, reason, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				s.log.Debug("Failed to write close frame", "connection_id", conn.ID, "error", err)
			}
			return

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Evict(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (s *Server) write(conn *hub.Connection, message []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, message)
}

// drain writes events queued before eviction, such as forced_disconnect.
func (s *Server) drain(conn *hub.Connection) {
	for {
		select {
		case message := <-conn.Send:
			if err := s.write(conn, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

// handleMessage dispatches incoming events. Each is handled to completion
// before the next frame is read, so a connection's sends keep their order.
func (s *Server) handleMessage(conn *hub.Connection, data []byte) {
	var base protocol.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	ctx := context.Background()
	switch base.Type {
	case protocol.TypeJoinRoom:
		s.handleJoinRoom(ctx, conn, base.RequestID, data)
	case protocol.TypeLeaveRoom:
		s.handleLeaveRoom(conn, base.RequestID, data)
	case protocol.TypeSendMessage:
		s.handleSendMessage(ctx, conn, data)
	case protocol.TypeTyping:
		s.handleTyping(conn, base.RequestID, data)
	case protocol.TypeMarkRead:
		s.handleMarkRead(ctx, conn, base.RequestID, data)
	case protocol.TypeDeleteMessage:
		s.handleDeleteMessage(ctx, conn, base.RequestID, data)
	case protocol.TypeHeartbeat:
		s.reply(conn, protocol.HeartbeatMessage{BaseMessage: s.replyBase(protocol.TypeHeartbeat, base.RequestID)})
	default:
		s.sendError(conn, base.RequestID, protocol.ErrorCodeInvalidMessage, "unknown message type: "+base.Type)
	}
}

// decode unmarshals and validates an inbound event, reporting failures as
// an error event.
func (s *Server) decode(conn *hub.Connection, data []byte, v any, requestID string) bool {
	if err := json.Unmarshal(data, v); err != nil {
		s.sendError(conn, requestID, protocol.ErrorCodeInvalidMessage, "malformed event payload")
		return false
	}
	if err := protocol.Validate(v); err != nil {
		s.sendDomainError(conn, requestID, err)
		return false
	}
	return true
}

func (s *Server) handleJoinRoom(ctx context.Context, conn *hub.Connection, requestID string, data []byte) {
	var msg protocol.JoinRoomMessage
	if !s.decode(conn, data, &msg, requestID) {
		return
	}
	if err := s.svc.JoinRoom(ctx, conn, msg.RoomID); err != nil {
		s.sendDomainError(conn, requestID, err)
		return
	}
	s.reply(conn, protocol.RoomJoinedMessage{
		BaseMessage: s.replyBase(protocol.TypeRoomJoined, requestID),
		RoomID:      msg.RoomID,
	})
}

func (s *Server) handleLeaveRoom(conn *hub.Connection, requestID string, data []byte) {
	var msg protocol.LeaveRoomMessage
	if !s.decode(conn, data, &msg, requestID) {
		return
	}
	s.svc.LeaveRoom(conn, msg.RoomID)
	s.reply(conn, protocol.RoomLeftMessage{
		BaseMessage: s.replyBase(protocol.TypeRoomLeft, requestID),
		RoomID:      msg.RoomID,
	})
}

// handleSendMessage reports every failure as message_error carrying the
// client's temp id so the optimistic copy can be marked failed.
func (s *Server) handleSendMessage(ctx context.Context, conn *hub.Connection, data []byte) {
	var msg protocol.SendMessageMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendMessageError(conn, msg.TempID, protocol.ErrorCodeInvalidMessage, "malformed send_message payload")
		return
	}
	if err := protocol.Validate(&msg); err != nil {
		s.sendMessageError(conn, msg.TempID, string(domain.KindOf(err)), domain.MessageOf(err))
		return
	}

	_, err := s.svc.SendMessage(ctx, service.SendInput{
		SenderID:       conn.UserID,
		ReceiverID:     msg.ReceiverID,
		ConversationID: msg.ConversationID,
		Body:           msg.Body,
		AttachmentURL:  msg.AttachmentURL,
		TempID:         msg.TempID,
		Origin:         conn,
	})
	if err != nil {
		s.sendMessageError(conn, msg.TempID, string(domain.KindOf(err)), domain.MessageOf(err))
	}
}

func (s *Server) handleTyping(conn *hub.Connection, requestID string, data []byte) {
	var msg protocol.TypingMessage
	if !s.decode(conn, data, &msg, requestID) {
		return
	}
	if err := s.svc.Typing(conn, msg.ReceiverID, msg.RoomID, msg.IsTyping); err != nil {
		s.sendDomainError(conn, requestID, err)
	}
}

func (s *Server) handleMarkRead(ctx context.Context, conn *hub.Connection, requestID string, data []byte) {
	var msg protocol.MarkReadMessage
	if !s.decode(conn, data, &msg, requestID) {
		return
	}
	if _, err := s.svc.MarkRead(ctx, conn.UserID, msg.ConversationID); err != nil {
		s.sendDomainError(conn, requestID, err)
	}
}

func (s *Server) handleDeleteMessage(ctx context.Context, conn *hub.Connection, requestID string, data []byte) {
	var msg protocol.DeleteMessageMessage
	if !s.decode(conn, data, &msg, requestID) {
		return
	}
	deleted, err := s.svc.DeleteMessage(ctx, conn.UserID, msg.MessageID)
	if err != nil {
		s.sendDomainError(conn, requestID, err)
		return
	}
	s.reply(conn, protocol.MessageDeletedMessage{
		BaseMessage:    s.replyBase(protocol.TypeMessageDeleted, requestID),
		MessageID:      deleted.ID,
		ConversationID: deleted.ConversationID,
		UserID:         conn.UserID,
	})
}

func (s *Server) replyBase(eventType, requestID string) protocol.BaseMessage {
	base := protocol.NewBase(eventType)
	base.RequestID = requestID
	return base
}

func (s *Server) reply(conn *hub.Connection, v any) {
	if err := s.svc.Hub().SendJSONToConnection(conn, v); err != nil {
		s.log.Debug("Reply dropped", "connection_id", conn.ID, "error", err)
	}
}

// sendDomainError maps a service error to an error event.
func (s *Server) sendDomainError(conn *hub.Connection, requestID string, err error) {
	s.sendError(conn, requestID, string(domain.KindOf(err)), domain.MessageOf(err))
}

// sendError sends an error message to a connection.
func (s *Server) sendError(conn *hub.Connection, requestID, code, message string) {
	s.reply(conn, protocol.ErrorMessage{
		BaseMessage: s.replyBase(protocol.TypeError, requestID),
		Code:        code,
		Message:     message,
	})
}

func (s *Server) sendMessageError(conn *hub.Connection, tempID, code, message string) {
	s.reply(conn, protocol.MessageErrorMessage{
		BaseMessage: protocol.NewBase(protocol.TypeMessageError),
		TempID:      tempID,
		Code:        code,
		Message:     message,
	})
}

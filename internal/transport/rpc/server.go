// Package rpc exposes the chat service to internal backends over JSON-RPC.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"

	"github.com/xiaot623/chatline/internal/domain"
	"github.com/xiaot623/chatline/internal/service"
)

// Server accepts JSON-RPC connections and serves the Chat methods.
type Server struct {
	mu        sync.Mutex
	listener  net.Listener
	rpcServer *rpc.Server
	log       *slog.Logger
	done      chan struct{}
}

// NewServer creates a new RPC server bound to the chat service.
func NewServer(svc *service.Service, log *slog.Logger) (*Server, error) {
	rpcServer := rpc.NewServer()
	handler := &Handler{service: svc, log: log}
	if err := rpcServer.RegisterName("Chat", handler); err != nil {
		return nil, fmt.Errorf("register rpc handler: %w", err)
	}

	return &Server{
		rpcServer: rpcServer,
		log:       log,
		done:      make(chan struct{}),
	}, nil
}

// Start begins accepting RPC connections on the given address.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until it is closed.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				close(s.done)
				return nil
			}
			s.log.Warn("RPC accept error", "error", err)
			continue
		}

		go s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}

// Shutdown stops accepting new RPC connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return nil
	}

	if err := ln.Close(); err != nil {
		return err
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler implements the Chat RPC methods.
type Handler struct {
	service *service.Service
	log     *slog.Logger
}

// PushRequest carries an event for a user's live connection.
type PushRequest struct {
	UserID string                 `json:"user_id"`
	Event  map[string]interface{} `json:"event"`
}

// PushResponse reports whether the user had a live connection.
type PushResponse struct {
	OK        bool `json:"ok"`
	Delivered bool `json:"delivered"`
}

// PresenceRequest names the user to look up.
type PresenceRequest struct {
	UserID string `json:"user_id"`
}

// PushEvent forwards an event to the user's live connection.
func (h *Handler) PushEvent(req *PushRequest, resp *PushResponse) error {
	if req == nil {
		return errors.New("push request is required")
	}

	delivered, err := h.service.PushToUser(req.UserID, req.Event)
	if err != nil {
		return errors.New(domain.MessageOf(err))
	}
	h.log.Debug("Event pushed", "user_id", req.UserID, "type", req.Event["type"], "delivered", delivered)

	if resp != nil {
		resp.OK = true
		resp.Delivered = delivered
	}
	return nil
}

// Presence reports whether a user is online and when they were last seen.
func (h *Handler) Presence(req *PresenceRequest, resp *domain.Presence) error {
	if req == nil || req.UserID == "" {
		return errors.New("user_id is required")
	}
	if resp != nil {
		*resp = h.service.Presence(req.UserID)
	}
	return nil
}

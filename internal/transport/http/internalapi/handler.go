// Package internalapi provides HTTP handlers for collaborators inside the
// deployment: the auth service that provisions users and backends that push
// events to connected users.
package internalapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/chatline/internal/protocol"
	"github.com/xiaot623/chatline/internal/service"
	"github.com/xiaot623/chatline/internal/transport/http/apierror"
)

// Handler handles internal HTTP requests.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new internal API handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers internal routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	// User provisioning
	e.POST("/internal/users", h.RegisterUser)

	// Event push
	e.POST("/internal/users/:user_id/events", h.PushEvent)
}

// Health reports live connection and room counts.
func (h *Handler) Health(c echo.Context) error {
	connections, rooms := h.service.Stats()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"connections": connections,
		"rooms":       rooms,
	})
}

// RegisterUserRequest provisions a user.
type RegisterUserRequest struct {
	UserID   string `json:"user_id" validate:"required,max=128"`
	Username string `json:"username" validate:"max=256"`
}

// RegisterUserResponse carries the access token for the user.
type RegisterUserResponse struct {
	UserID    string `json:"user_id"`
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// RegisterUser upserts a user and issues an access token.
// POST /internal/users
func (h *Handler) RegisterUser(c echo.Context) error {
	var req RegisterUserRequest
	if err := c.Bind(&req); err != nil {
		return apierror.BadRequest(c, "invalid request body")
	}
	if err := protocol.Validate(&req); err != nil {
		return apierror.Write(c, err)
	}

	token, expiresAt, err := h.service.RegisterUser(c.Request().Context(), req.UserID, req.Username)
	if err != nil {
		return apierror.Write(c, err)
	}
	return c.JSON(http.StatusOK, RegisterUserResponse{
		UserID:    req.UserID,
		Token:     token,
		ExpiresAt: expiresAt.UnixMilli(),
	})
}

// PushRequest is an arbitrary event for a user's live connection.
type PushRequest struct {
	Event map[string]interface{} `json:"event"`
}

// PushResponse reports whether the user had a live connection.
type PushResponse struct {
	OK        bool `json:"ok"`
	Delivered bool `json:"delivered"`
}

// PushEvent forwards an event to the user's live connection.
// POST /internal/users/:user_id/events
func (h *Handler) PushEvent(c echo.Context) error {
	var req PushRequest
	if err := c.Bind(&req); err != nil {
		return apierror.BadRequest(c, "invalid request body")
	}
	delivered, err := h.service.PushToUser(c.Param("user_id"), req.Event)
	if err != nil {
		return apierror.Write(c, err)
	}
	return c.JSON(http.StatusOK, PushResponse{OK: true, Delivered: delivered})
}

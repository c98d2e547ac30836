// Package v1 provides the public REST API of the chat server.
package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/chatline/internal/auth"
	"github.com/xiaot623/chatline/internal/service"
	"github.com/xiaot623/chatline/internal/transport/http/apierror"
)

// userKey is the echo context key holding the authenticated user id.
const userKey = "user_id"

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers the /v1 API behind bearer authentication. mw
// runs before authentication.
func (h *Handler) RegisterRoutes(e *echo.Echo, mw ...echo.MiddlewareFunc) {
	g := e.Group("/v1", append(mw, h.Authenticate)...)

	// Conversations
	g.GET("/conversations", h.ListConversations)
	g.POST("/conversations", h.CreateConversation)
	g.GET("/conversations/:conversation_id/messages", h.GetMessages)
	g.POST("/conversations/:conversation_id/read", h.MarkRead)
	g.DELETE("/conversations/:conversation_id", h.DeleteConversation)

	// Messages
	g.POST("/messages", h.SendMessage)
	g.DELETE("/messages/:message_id", h.DeleteMessage)

	// Presence
	g.GET("/users/online", h.ListOnlineUsers)
	g.GET("/users/:user_id/presence", h.GetPresence)

	e.GET("/health", h.Health)
}

// Authenticate resolves the bearer token to a user id.
func (h *Handler) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := h.service.Authenticate(c.Request().Context(), auth.TokenFromRequest(c.Request()))
		if err != nil {
			return apierror.Write(c, err)
		}
		c.Set(userKey, userID)
		return next(c)
	}
}

// currentUser returns the user id set by Authenticate.
func currentUser(c echo.Context) string {
	userID, _ := c.Get(userKey).(string)
	return userID
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/chatline/internal/protocol"
	"github.com/xiaot623/chatline/internal/transport/http/apierror"
)

// CreateConversationRequest opens a conversation with another user.
type CreateConversationRequest struct {
	ReceiverID string `json:"receiver_id" validate:"required,max=128"`
}

// ListConversations lists the caller's conversations, newest first.
// GET /v1/conversations
func (h *Handler) ListConversations(c echo.Context) error {
	views, err := h.service.ListConversations(c.Request().Context(), currentUser(c))
	if err != nil {
		return apierror.Write(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"conversations": views,
	})
}

// CreateConversation returns the conversation with receiver_id, creating it
// on first contact.
// POST /v1/conversations
func (h *Handler) CreateConversation(c echo.Context) error {
	var req CreateConversationRequest
	if err := c.Bind(&req); err != nil {
		return apierror.BadRequest(c, "invalid request body")
	}
	if err := protocol.Validate(&req); err != nil {
		return apierror.Write(c, err)
	}

	conv, err := h.service.GetOrCreateConversation(c.Request().Context(), currentUser(c), req.ReceiverID)
	if err != nil {
		return apierror.Write(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"conversation": conv,
	})
}

// GetMessages returns one page of history and marks it read for the caller.
// GET /v1/conversations/:conversation_id/messages?page=1&limit=50
func (h *Handler) GetMessages(c echo.Context) error {
	page := 1
	if p := c.QueryParam("page"); p != "" {
		val, err := strconv.Atoi(p)
		if err != nil || val < 1 {
			return apierror.BadRequest(c, "page must be a positive integer")
		}
		page = val
	}
	limit := 0
	if l := c.QueryParam("limit"); l != "" {
		val, err := strconv.Atoi(l)
		if err != nil || val < 1 {
			return apierror.BadRequest(c, "limit must be a positive integer")
		}
		limit = val
	}

	result, err := h.service.History(c.Request().Context(), currentUser(c), c.Param("conversation_id"), page, limit)
	if err != nil {
		return apierror.Write(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// MarkRead marks every message addressed to the caller as read.
// POST /v1/conversations/:conversation_id/read
func (h *Handler) MarkRead(c echo.Context) error {
	flipped, err := h.service.MarkRead(c.Request().Context(), currentUser(c), c.Param("conversation_id"))
	if err != nil {
		return apierror.Write(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"ok":          true,
		"marked_read": flipped,
	})
}

// DeleteConversation removes a conversation with all its messages.
// DELETE /v1/conversations/:conversation_id
func (h *Handler) DeleteConversation(c echo.Context) error {
	if err := h.service.DeleteConversation(c.Request().Context(), currentUser(c), c.Param("conversation_id")); err != nil {
		return apierror.Write(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

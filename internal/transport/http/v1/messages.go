package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/chatline/internal/protocol"
	"github.com/xiaot623/chatline/internal/service"
	"github.com/xiaot623/chatline/internal/transport/http/apierror"
)

// SendMessageRequest is the REST form of a send intent.
type SendMessageRequest struct {
	ReceiverID     string `json:"receiver_id" validate:"required,max=128"`
	ConversationID string `json:"conversation_id,omitempty" validate:"omitempty,max=128"`
	Body           string `json:"body"`
	AttachmentURL  string `json:"attachment_url,omitempty" validate:"omitempty,url"`
}

// SendMessage runs the same delivery path as the socket event. The
// response body stands in for the ack.
// POST /v1/messages
func (h *Handler) SendMessage(c echo.Context) error {
	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return apierror.BadRequest(c, "invalid request body")
	}
	if err := protocol.Validate(&req); err != nil {
		return apierror.Write(c, err)
	}

	msg, err := h.service.SendMessage(c.Request().Context(), service.SendInput{
		SenderID:       currentUser(c),
		ReceiverID:     req.ReceiverID,
		ConversationID: req.ConversationID,
		Body:           req.Body,
		AttachmentURL:  req.AttachmentURL,
	})
	if err != nil {
		return apierror.Write(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"message": msg,
	})
}

// DeleteMessage tombstones one of the caller's messages.
// DELETE /v1/messages/:message_id
func (h *Handler) DeleteMessage(c echo.Context) error {
	msg, err := h.service.DeleteMessage(c.Request().Context(), currentUser(c), c.Param("message_id"))
	if err != nil {
		return apierror.Write(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": msg,
	})
}

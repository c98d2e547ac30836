package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// GetPresence returns whether a user is online and when they were last seen.
// GET /v1/users/:user_id/presence
func (h *Handler) GetPresence(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.Presence(c.Param("user_id")))
}

// ListOnlineUsers lists users with a live connection.
// GET /v1/users/online
func (h *Handler) ListOnlineUsers(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"users": h.service.OnlineUsers(),
	})
}

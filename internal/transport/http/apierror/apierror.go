// Package apierror renders service errors as JSON HTTP responses.
package apierror

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/chatline/internal/domain"
)

// Status maps an error kind to its HTTP status.
func Status(err error) int {
	switch domain.KindOf(err) {
	case domain.KindInvalidArgument:
		return http.StatusBadRequest
	case domain.KindUnauthenticated:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Write responds with {"error": message, "code": kind}. Internal causes
// are never exposed.
func Write(c echo.Context, err error) error {
	return c.JSON(Status(err), map[string]string{
		"error": domain.MessageOf(err),
		"code":  string(domain.KindOf(err)),
	})
}

// BadRequest responds with an invalid_argument error carrying msg.
func BadRequest(c echo.Context, msg string) error {
	return Write(c, domain.InvalidArgument(msg))
}

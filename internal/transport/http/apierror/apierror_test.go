package apierror

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/chatline/internal/domain"
)

func TestStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrEmptyBody, http.StatusBadRequest},
		{domain.ErrInvalidToken, http.StatusUnauthorized},
		{domain.ErrNotParticipant, http.StatusForbidden},
		{domain.ErrConversationNotFound, http.StatusNotFound},
		{domain.Internal("store down", errors.New("disk")), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Status(tc.err), tc.err.Error())
	}
}

func TestWriteHidesCause(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	require.NoError(t, Write(c, domain.Internal("failed to load conversation", errors.New("database is locked"))))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "failed to load conversation", body["error"])
	assert.Equal(t, "internal", body["code"])
	assert.NotContains(t, rec.Body.String(), "locked")
}

package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/chatline/internal/auth"
	"github.com/xiaot623/chatline/internal/config"
	"github.com/xiaot623/chatline/internal/hub"
	"github.com/xiaot623/chatline/internal/policy"
	"github.com/xiaot623/chatline/internal/repository"
	"github.com/xiaot623/chatline/internal/service"
	"github.com/xiaot623/chatline/tests/helpers"
)

type testEnv struct {
	handler *Handler
	svc     *service.Service
	store   repository.Store
	tokens  *auth.Issuer
}

func newTestHandler(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{PersistTimeout: time.Second, MaxBodyLength: 100, HistoryPageSize: 50}
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	db := helpers.NewTestSQLiteStore(t)
	helpers.SeedUsers(t, db, "alice", "bob", "carol")

	policyEngine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)
	tokens, err := auth.NewIssuer("test-secret", time.Hour)
	require.NoError(t, err)

	svc := service.New(db, hub.NewHub(log), nil, policyEngine, tokens, cfg, log)
	return &testEnv{handler: NewHandler(svc), svc: svc, store: db, tokens: tokens}
}

// newContext builds an echo context authenticated as userID.
func newContext(method, target, body, userID string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if userID != "" {
		c.Set(userKey, userID)
	}
	return c, rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestAuthenticateMiddleware(t *testing.T) {
	env := newTestHandler(t)
	var seen string
	next := env.handler.Authenticate(func(c echo.Context) error {
		seen = currentUser(c)
		return c.NoContent(http.StatusNoContent)
	})

	c, rec := newContext(http.MethodGet, "/v1/conversations", "", "")
	require.NoError(t, next(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, seen)

	token, _, err := env.tokens.Issue("alice")
	require.NoError(t, err)
	c, rec = newContext(http.MethodGet, "/v1/conversations", "", "")
	c.Request().Header.Set("Authorization", "Bearer "+token)
	require.NoError(t, next(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "alice", seen)
}

func TestRoutesRequireToken(t *testing.T) {
	env := newTestHandler(t)
	e := echo.New()
	env.handler.RegisterRoutes(e)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/conversations", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth(t *testing.T) {
	env := newTestHandler(t)
	c, rec := newContext(http.MethodGet, "/health", "", "")
	require.NoError(t, env.handler.Health(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}

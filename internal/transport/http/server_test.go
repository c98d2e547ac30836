package http

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/chatline/internal/auth"
	"github.com/xiaot623/chatline/internal/config"
	"github.com/xiaot623/chatline/internal/hub"
	"github.com/xiaot623/chatline/internal/policy"
	"github.com/xiaot623/chatline/internal/service"
	"github.com/xiaot623/chatline/internal/transport/ws"
	"github.com/xiaot623/chatline/tests/helpers"
)

func newTestService(t *testing.T, cfg *config.Config) (*service.Service, *auth.Issuer) {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	db := helpers.NewTestSQLiteStore(t)
	helpers.SeedUsers(t, db, "alice", "bob")

	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)
	tokens, err := auth.NewIssuer("test-secret", time.Hour)
	require.NoError(t, err)
	return service.New(db, hub.NewHub(log), nil, engine, tokens, cfg, log), tokens
}

func TestExternalServerRoutes(t *testing.T) {
	cfg := &config.Config{PersistTimeout: time.Second, HistoryPageSize: 50, MaxBodyLength: 100}
	svc, tokens := newTestService(t, cfg)
	e := NewExternalServer(cfg, svc, ws.NewServer(cfg, svc, logs.GetLoggerFromLevel(slog.LevelDebug)))

	token, _, err := tokens.Issue("alice")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/conversations", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExternalServerRateLimit(t *testing.T) {
	cfg := &config.Config{PersistTimeout: time.Second, HistoryPageSize: 50, RateLimit: 1}
	svc, tokens := newTestService(t, cfg)
	e := NewExternalServer(cfg, svc, ws.NewServer(cfg, svc, logs.GetLoggerFromLevel(slog.LevelDebug)))

	token, _, err := tokens.Issue("alice")
	require.NoError(t, err)

	codes := make([]int, 0, 5)
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/users/online", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, http.StatusOK, codes[0])
	assert.Contains(t, codes, http.StatusTooManyRequests)
}

func TestInternalServerRoutes(t *testing.T) {
	svc, _ := newTestService(t, &config.Config{})
	e := NewInternalServer(svc)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/conversations", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/chatline/internal/auth"
	"github.com/xiaot623/chatline/internal/config"
	"github.com/xiaot623/chatline/internal/hub"
	"github.com/xiaot623/chatline/internal/notify"
	"github.com/xiaot623/chatline/internal/policy"
	"github.com/xiaot623/chatline/internal/protocol"
	"github.com/xiaot623/chatline/internal/repository"
	"github.com/xiaot623/chatline/tests/helpers"
)

type fixture struct {
	svc    *Service
	store  *repository.SQLiteStore
	hub    *hub.Hub
	tokens *auth.Issuer
}

func testConfig() *config.Config {
	return &config.Config{
		PersistTimeout:  time.Second,
		MaxBodyLength:   100,
		HistoryPageSize: 50,
	}
}

func newTestService(t *testing.T, notifier notify.Notifier) *fixture {
	t.Helper()
	db := helpers.NewTestSQLiteStore(t)
	helpers.SeedUsers(t, db, "alice", "bob", "carol")
	return newFixture(t, db, notifier)
}

func newFixture(t *testing.T, db *repository.SQLiteStore, notifier notify.Notifier) *fixture {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)
	tokens, err := auth.NewIssuer("test-secret", time.Hour)
	require.NoError(t, err)

	h := hub.NewHub(log)
	return &fixture{
		svc:    New(db, h, notifier, engine, tokens, testConfig(), log),
		store:  db,
		hub:    h,
		tokens: tokens,
	}
}

// connect registers a live connection for userID and discards its greeting.
func (f *fixture) connect(t *testing.T, userID string) *hub.Connection {
	t.Helper()
	conn := hub.NewConnection(userID, nil, 64)
	f.svc.Connect(context.Background(), conn)
	received(t, conn)
	return conn
}

type event struct {
	Type string
	raw  []byte
}

func (e event) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(e.raw, v))
}

// received drains every event queued on conn.
func received(t *testing.T, conn *hub.Connection) []event {
	t.Helper()
	var out []event
	for {
		select {
		case data := <-conn.Send:
			var base protocol.BaseMessage
			require.NoError(t, json.Unmarshal(data, &base))
			out = append(out, event{Type: base.Type, raw: data})
		default:
			return out
		}
	}
}

func types(events []event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

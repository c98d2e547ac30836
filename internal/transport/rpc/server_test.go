package rpc

import (
	"context"
	"log/slog"
	"net"
	"net/rpc/jsonrpc"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/chatline/internal/auth"
	"github.com/xiaot623/chatline/internal/config"
	"github.com/xiaot623/chatline/internal/domain"
	"github.com/xiaot623/chatline/internal/hub"
	"github.com/xiaot623/chatline/internal/policy"
	"github.com/xiaot623/chatline/internal/service"
	"github.com/xiaot623/chatline/tests/helpers"
)

func newTestServer(t *testing.T) (*service.Service, string) {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	db := helpers.NewTestSQLiteStore(t)
	helpers.SeedUsers(t, db, "alice")

	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)
	tokens, err := auth.NewIssuer("test-secret", time.Hour)
	require.NoError(t, err)
	svc := service.New(db, hub.NewHub(log), nil, engine, tokens, &config.Config{}, log)

	srv, err := NewServer(svc, log)
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return svc, ln.Addr().String()
}

func TestPushEvent(t *testing.T) {
	svc, addr := newTestServer(t)
	conn := hub.NewConnection("alice", nil, 8)
	svc.Connect(context.Background(), conn)
	<-conn.Send

	client, err := jsonrpc.Dial("tcp", addr)
	require.NoError(t, err)
	defer client.Close()

	var resp PushResponse
	err = client.Call("Chat.PushEvent", &PushRequest{UserID: "alice", Event: map[string]interface{}{"type": "system_notice"}}, &resp)
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.True(t, resp.Delivered)
	assert.Contains(t, string(<-conn.Send), "system_notice")

	resp = PushResponse{}
	err = client.Call("Chat.PushEvent", &PushRequest{UserID: "bob", Event: map[string]interface{}{"type": "system_notice"}}, &resp)
	require.NoError(t, err)
	assert.False(t, resp.Delivered)

	err = client.Call("Chat.PushEvent", &PushRequest{UserID: "alice"}, &resp)
	assert.ErrorContains(t, err, "event is required")
}

func TestPresence(t *testing.T) {
	svc, addr := newTestServer(t)
	conn := hub.NewConnection("alice", nil, 8)
	svc.Connect(context.Background(), conn)

	client, err := jsonrpc.Dial("tcp", addr)
	require.NoError(t, err)
	defer client.Close()

	var presence domain.Presence
	require.NoError(t, client.Call("Chat.Presence", &PresenceRequest{UserID: "alice"}, &presence))
	assert.Equal(t, "alice", presence.UserID)
	assert.True(t, presence.Online)

	err = client.Call("Chat.Presence", &PresenceRequest{}, &presence)
	assert.ErrorContains(t, err, "user_id is required")
}

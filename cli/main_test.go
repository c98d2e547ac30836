package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/chatline/internal/protocol"
)

func TestBuildEventNeedsReceiver(t *testing.T) {
	state := &session{}

	_, err := buildEvent(state, "hello")
	assert.Error(t, err)

	event, err := buildEvent(state, "/to bob")
	require.NoError(t, err)
	assert.Nil(t, event)

	event, err = buildEvent(state, "hello")
	require.NoError(t, err)
	send, ok := event.(protocol.SendMessageMessage)
	require.True(t, ok)
	assert.Equal(t, protocol.TypeSendMessage, send.Type)
	assert.Equal(t, "bob", send.ReceiverID)
	assert.Empty(t, send.ConversationID)
	assert.NotEmpty(t, send.TempID)
}

func TestBuildEventUsesLearnedRoom(t *testing.T) {
	state := &session{receiverID: "bob"}
	state.learnRoom("c1")
	state.learnRoom("c2")

	event, err := buildEvent(state, "/join")
	require.NoError(t, err)
	assert.Equal(t, "c1", event.(protocol.JoinRoomMessage).RoomID)

	event, err = buildEvent(state, "/typing")
	require.NoError(t, err)
	typing := event.(protocol.TypingMessage)
	assert.True(t, typing.IsTyping)
	assert.Equal(t, "c1", typing.RoomID)

	event, err = buildEvent(state, "/read")
	require.NoError(t, err)
	assert.Equal(t, "c1", event.(protocol.MarkReadMessage).ConversationID)

	event, err = buildEvent(state, "again")
	require.NoError(t, err)
	assert.Equal(t, "c1", event.(protocol.SendMessageMessage).ConversationID)

	// Switching receiver forgets the room.
	_, err = buildEvent(state, "/to carol")
	require.NoError(t, err)
	_, err = buildEvent(state, "/read")
	assert.Error(t, err)
}

func TestBuildEventCommands(t *testing.T) {
	state := &session{}

	_, err := buildEvent(state, "/quit")
	assert.ErrorIs(t, err, errQuit)

	event, err := buildEvent(state, "/delete m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", event.(protocol.DeleteMessageMessage).MessageID)

	event, err = buildEvent(state, "/ping")
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeHeartbeat, event.(protocol.HeartbeatMessage).Type)

	for _, bad := range []string{"/delete", "/join", "/leave", "/typing", "/dance"} {
		_, err := buildEvent(state, bad)
		assert.Error(t, err, bad)
	}
}

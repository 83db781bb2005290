package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPresenceIsDisjunctionOverConnections(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t).Sugar())
	phone := reg.Connect("alice", &stubSink{})
	laptop := reg.Connect("alice", &stubSink{})

	assert.False(t, reg.IsPresent("alice", "chat-1"))

	entered := reg.SetOpenChat(phone, "chat-1")
	assert.True(t, entered, "first connection to open the chat is the transition")
	assert.True(t, reg.IsPresent("alice", "chat-1"))

	entered = reg.SetOpenChat(laptop, "chat-1")
	assert.False(t, entered, "user was already present via the other device")

	// Phone navigates away; the laptop still holds presence.
	reg.SetOpenChat(phone, "")
	assert.True(t, reg.IsPresent("alice", "chat-1"))

	reg.Disconnect(laptop)
	assert.False(t, reg.IsPresent("alice", "chat-1"))
}

func TestReenteringSameChatIsNotATransition(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t).Sugar())
	conn := reg.Connect("alice", &stubSink{})

	assert.True(t, reg.SetOpenChat(conn, "chat-1"))
	assert.False(t, reg.SetOpenChat(conn, "chat-1"))

	// Leaving and coming back is a fresh transition.
	reg.SetOpenChat(conn, "")
	assert.True(t, reg.SetOpenChat(conn, "chat-1"))
}

func TestSwitchingChatsMovesPresence(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t).Sugar())
	conn := reg.Connect("alice", &stubSink{})

	require.True(t, reg.SetOpenChat(conn, "chat-1"))
	require.True(t, reg.SetOpenChat(conn, "chat-2"))

	assert.False(t, reg.IsPresent("alice", "chat-1"))
	assert.True(t, reg.IsPresent("alice", "chat-2"))
	assert.Equal(t, "chat-2", reg.OpenChat(conn))
}

func TestDisconnectedConnectionRejectsDelivery(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t).Sugar())
	conn := reg.Connect("alice", &stubSink{})
	reg.Disconnect(conn)

	err := conn.Deliver(KindNewMessage, []byte(`{}`))
	assert.ErrorIs(t, err, ErrConnClosed)
	assert.False(t, reg.SetOpenChat(conn, "chat-1"), "a dead connection cannot enter presence")
	assert.Empty(t, reg.Connections("alice"))
	assert.False(t, reg.Online("alice"))
}

func TestConnectionsSnapshot(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t).Sugar())
	a := reg.Connect("alice", &stubSink{})
	b := reg.Connect("alice", &stubSink{})
	reg.Connect("bob", &stubSink{})

	conns := reg.Connections("alice")
	require.Len(t, conns, 2)
	ids := map[string]bool{conns[0].ID: true, conns[1].ID: true}
	assert.True(t, ids[a.ID])
	assert.True(t, ids[b.ID])

	_, seen := reg.LastSeen("alice")
	assert.True(t, seen)
	_, seen = reg.LastSeen("nobody")
	assert.False(t, seen)
}

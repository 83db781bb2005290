package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func publishMessage(t *testing.T, core *Core, chatID, sender string) {
	t.Helper()
	require.NoError(t, core.Engine.Publish(Event{
		Kind:     KindNewMessage,
		ChatID:   chatID,
		SenderID: sender,
		Payload:  map[string]string{"content": "x"},
	}))
}

func TestUnreadIncrementsOnlyForAbsentMembers(t *testing.T) {
	core := newTestCore(t)
	core.Registry.Connect("alice", &stubSink{})
	bobConn := core.Registry.Connect("bob", &stubSink{})
	for _, u := range []string{"alice", "bob", "dora"} {
		core.Rooms.AddMember("chat-1", u)
	}
	core.Unread.OpenChat(bobConn, "chat-1")

	publishMessage(t, core, "chat-1", "alice")
	publishMessage(t, core, "chat-1", "alice")

	assert.Equal(t, 0, core.Unread.Count("alice", "chat-1"))
	assert.Equal(t, 0, core.Unread.Count("bob", "chat-1"))
	assert.Equal(t, 2, core.Unread.Count("dora", "chat-1"))
}

func TestUnreadResetsOnPresenceTransition(t *testing.T) {
	core := newTestCore(t)
	doraConn := core.Registry.Connect("dora", &stubSink{})
	core.Rooms.AddMember("chat-1", "alice")
	core.Rooms.AddMember("chat-1", "dora")

	publishMessage(t, core, "chat-1", "alice")
	publishMessage(t, core, "chat-1", "alice")
	publishMessage(t, core, "chat-1", "alice")
	require.Equal(t, 3, core.Unread.Count("dora", "chat-1"))

	core.Unread.OpenChat(doraConn, "chat-1")
	assert.Equal(t, 0, core.Unread.Count("dora", "chat-1"))

	// Present now, so a further message leaves the counter at zero.
	publishMessage(t, core, "chat-1", "alice")
	assert.Equal(t, 0, core.Unread.Count("dora", "chat-1"))
}

func TestUnreadResetEchoesToOtherDevicesOnly(t *testing.T) {
	core := newTestCore(t)
	phone, laptop := &stubSink{}, &stubSink{}
	phoneConn := core.Registry.Connect("dora", phone)
	core.Registry.Connect("dora", laptop)
	core.Rooms.AddMember("chat-1", "alice")
	core.Rooms.AddMember("chat-1", "dora")

	publishMessage(t, core, "chat-1", "alice")
	waitFrames(t, phone, 1)
	waitFrames(t, laptop, 1)

	core.Unread.OpenChat(phoneConn, "chat-1")

	// Laptop gets the chat_updated echo carrying the zeroed count.
	frames := waitFrames(t, laptop, 2)
	ev := decodeFrame(t, frames[1])
	require.Equal(t, "chat_updated", ev.Event)
	var data struct {
		ChatID      string `json:"chat_id"`
		UnreadCount int    `json:"unread_count"`
	}
	require.NoError(t, json.Unmarshal(ev.Data, &data))
	assert.Equal(t, "chat-1", data.ChatID)
	assert.Equal(t, 0, data.UnreadCount)

	// The opening device already implies the reset; no echo for it.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, phone.count())
}

func TestUnreadResetHappensOncePerTransition(t *testing.T) {
	core := newTestCore(t)
	phone, laptop := &stubSink{}, &stubSink{}
	phoneConn := core.Registry.Connect("dora", phone)
	laptopConn := core.Registry.Connect("dora", laptop)
	core.Rooms.AddMember("chat-1", "dora")

	core.Unread.OpenChat(phoneConn, "chat-1")
	waitFrames(t, laptop, 1)

	// Second device opening the same chat is not a transition; no new echo.
	core.Unread.OpenChat(laptopConn, "chat-1")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, laptop.count())
	assert.Zero(t, phone.count())
}

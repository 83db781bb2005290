package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type wireFrame struct {
	kind    string
	payload []byte
}

type wireEvent struct {
	Event string          `json:"event"`
	ID    string          `json:"id"`
	TS    string          `json:"ts"`
	Data  json.RawMessage `json:"data"`
}

// stubSink records everything the write loop hands it.
type stubSink struct {
	mu   sync.Mutex
	sent []wireFrame
	fail error
}

func (s *stubSink) Send(kind string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, wireFrame{kind: kind, payload: append([]byte(nil), payload...)})
	return s.fail
}

func (s *stubSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *stubSink) frames() []wireFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wireFrame(nil), s.sent...)
}

func newTestCore(t *testing.T) *Core {
	t.Helper()
	return NewCore(zaptest.NewLogger(t).Sugar(), DefaultTypingWindow)
}

func waitFrames(t *testing.T, sink *stubSink, n int) []wireFrame {
	t.Helper()
	require.Eventually(t, func() bool { return sink.count() >= n },
		2*time.Second, 5*time.Millisecond, "expected %d frames, got %d", n, sink.count())
	return sink.frames()
}

func decodeFrame(t *testing.T, f wireFrame) wireEvent {
	t.Helper()
	var ev wireEvent
	require.NoError(t, json.Unmarshal(f.payload, &ev))
	return ev
}

func TestPublishDeliversToAllMemberConnections(t *testing.T) {
	core := newTestCore(t)

	alicePhone, aliceLaptop := &stubSink{}, &stubSink{}
	bobSink := &stubSink{}
	outsiderSink := &stubSink{}

	core.Registry.Connect("alice", alicePhone)
	core.Registry.Connect("alice", aliceLaptop)
	core.Registry.Connect("bob", bobSink)
	core.Registry.Connect("mallory", outsiderSink)

	core.Rooms.AddMember("chat-1", "alice")
	core.Rooms.AddMember("chat-1", "bob")

	err := core.Engine.Publish(Event{
		Kind:     KindNewMessage,
		ChatID:   "chat-1",
		SenderID: "alice",
		DedupKey: "msg-1",
		Payload:  map[string]string{"content": "hi"},
	})
	require.NoError(t, err)

	for _, sink := range []*stubSink{alicePhone, aliceLaptop, bobSink} {
		frames := waitFrames(t, sink, 1)
		ev := decodeFrame(t, frames[0])
		assert.Equal(t, "new_message", ev.Event)
		assert.Equal(t, "msg-1", ev.ID)
		assert.JSONEq(t, `{"content":"hi"}`, string(ev.Data))
		_, perr := time.Parse(time.RFC3339Nano, ev.TS)
		assert.NoError(t, perr)
	}

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, outsiderSink.count(), "non-member must not receive room events")
}

func TestPublishToOfflineMemberIsSilentNoop(t *testing.T) {
	core := newTestCore(t)
	core.Rooms.AddMember("chat-1", "ghost")

	err := core.Engine.Publish(Event{
		Kind:    KindNewMessage,
		ChatID:  "chat-1",
		Payload: map[string]string{"content": "anyone there"},
	})
	assert.NoError(t, err)
}

func TestPublishUserScopedReachesNonMember(t *testing.T) {
	core := newTestCore(t)
	sink := &stubSink{}
	core.Registry.Connect("carol", sink)

	err := core.Engine.Publish(Event{
		Kind:    KindFriendRequestReceived,
		UserID:  "carol",
		Payload: map[string]string{"sender_id": "alice"},
	})
	require.NoError(t, err)

	frames := waitFrames(t, sink, 1)
	assert.Equal(t, "friend_request_received", decodeFrame(t, frames[0]).Event)
}

func TestRemovedMemberStopsReceivingRoomEvents(t *testing.T) {
	core := newTestCore(t)
	bobSink, carolSink := &stubSink{}, &stubSink{}
	core.Registry.Connect("bob", bobSink)
	core.Registry.Connect("carol", carolSink)
	core.Rooms.AddMember("chat-1", "bob")
	core.Rooms.AddMember("chat-1", "carol")

	// Removal takes effect before its confirmation event is published. The
	// removed member gets the confirmation user-scoped, never room-scoped.
	core.Rooms.RemoveMember("chat-1", "carol")
	require.NoError(t, core.Engine.Publish(Event{
		Kind:    KindParticipantRemoved,
		ChatID:  "chat-1",
		UserID:  "carol",
		Payload: map[string]string{"chat_id": "chat-1", "user_id": "carol"},
	}))
	require.NoError(t, core.Engine.Publish(Event{
		Kind:    KindNewMessage,
		ChatID:  "chat-1",
		Payload: map[string]string{"content": "after removal"},
	}))

	bobFrames := waitFrames(t, bobSink, 2)
	assert.Equal(t, "participant_removed", decodeFrame(t, bobFrames[0]).Event)
	assert.Equal(t, "new_message", decodeFrame(t, bobFrames[1]).Event)

	carolFrames := waitFrames(t, carolSink, 1)
	assert.Equal(t, "participant_removed", decodeFrame(t, carolFrames[0]).Event)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, carolSink.count(), "removed member must see nothing after the removal notice")
}

func TestDeliveryFaultIsIsolated(t *testing.T) {
	core := newTestCore(t)
	okSink := &stubSink{}
	badSink := &stubSink{fail: errors.New("broken pipe")}
	core.Registry.Connect("bob", okSink)
	core.Registry.Connect("carol", badSink)
	core.Rooms.AddMember("chat-1", "bob")
	core.Rooms.AddMember("chat-1", "carol")

	require.NoError(t, core.Engine.Publish(Event{
		Kind:    KindNewMessage,
		ChatID:  "chat-1",
		Payload: map[string]string{"content": "hello"},
	}))

	waitFrames(t, okSink, 1)
	waitFrames(t, badSink, 1) // attempted, failed, siblings unaffected
}

func TestPublishRejectsMissingTarget(t *testing.T) {
	core := newTestCore(t)
	err := core.Engine.Publish(Event{Kind: KindNewMessage})
	assert.ErrorIs(t, err, ErrNoTarget)
}

func TestPublishSurfacesSerializationFault(t *testing.T) {
	core := newTestCore(t)
	sink := &stubSink{}
	core.Registry.Connect("bob", sink)
	core.Rooms.AddMember("chat-1", "bob")

	err := core.Engine.Publish(Event{
		Kind:    KindNewMessage,
		ChatID:  "chat-1",
		Payload: make(chan int), // not serializable
	})
	require.ErrorIs(t, err, ErrSerialize)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, sink.count(), "nothing may reach the transport on a serialization fault")
}

func TestPublishPreservesRoomOrder(t *testing.T) {
	core := newTestCore(t)
	sink := &stubSink{}
	core.Registry.Connect("bob", sink)
	core.Rooms.AddMember("chat-1", "bob")

	const n = 25
	for i := 0; i < n; i++ {
		require.NoError(t, core.Engine.Publish(Event{
			Kind:    KindNewMessage,
			ChatID:  "chat-1",
			Payload: map[string]int{"seq": i},
		}))
	}

	frames := waitFrames(t, sink, n)
	for i, f := range frames[:n] {
		var data struct {
			Seq int `json:"seq"`
		}
		require.NoError(t, json.Unmarshal(decodeFrame(t, f).Data, &data))
		assert.Equal(t, i, data.Seq, "frame %d out of order", i)
	}
}

func TestDisconnectCancelsOnlyOwnDeliveries(t *testing.T) {
	core := newTestCore(t)
	phone, laptop := &stubSink{}, &stubSink{}
	phoneConn := core.Registry.Connect("alice", phone)
	core.Registry.Connect("alice", laptop)
	core.Rooms.AddMember("chat-1", "alice")

	core.Registry.Disconnect(phoneConn)
	require.NoError(t, core.Engine.Publish(Event{
		Kind:    KindNewMessage,
		ChatID:  "chat-1",
		Payload: map[string]string{"content": "still here"},
	}))

	waitFrames(t, laptop, 1)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, phone.count())
}

func TestScenarioPresentMemberReceivesWithoutUnread(t *testing.T) {
	// A present nowhere and B present in chat C, both members; D is a member
	// with no live connection. A sends "Hello!".
	core := newTestCore(t)
	aSink, bSink := &stubSink{}, &stubSink{}
	core.Registry.Connect("user-a", aSink)
	bConn := core.Registry.Connect("user-b", bSink)
	for _, u := range []string{"user-a", "user-b", "user-d"} {
		core.Rooms.AddMember("chat-c", u)
	}
	core.Unread.OpenChat(bConn, "chat-c")

	require.NoError(t, core.Engine.Publish(Event{
		Kind:     KindNewMessage,
		ChatID:   "chat-c",
		SenderID: "user-a",
		DedupKey: "msg-hello",
		Payload:  map[string]string{"content": "Hello!"},
	}))

	frames := waitFrames(t, bSink, 1)
	ev := decodeFrame(t, frames[0])
	assert.Equal(t, "new_message", ev.Event)
	assert.JSONEq(t, `{"content":"Hello!"}`, string(ev.Data))

	assert.Equal(t, 0, core.Unread.Count("user-b", "chat-c"), "present member accrues nothing")
	assert.Equal(t, 1, core.Unread.Count("user-d", "chat-c"), "offline member accrues unread")
	assert.Equal(t, 0, core.Unread.Count("user-a", "chat-c"), "sender accrues nothing")
}

func TestStripeKeyFallsBackToUser(t *testing.T) {
	core := newTestCore(t)
	for i := 0; i < 3; i++ {
		sink := &stubSink{}
		user := fmt.Sprintf("user-%d", i)
		core.Registry.Connect(user, sink)
		require.NoError(t, core.Engine.Publish(Event{
			Kind:    KindChatUpdated,
			UserID:  user,
			Payload: map[string]string{"chat_id": "x"},
		}))
		waitFrames(t, sink, 1)
	}
}

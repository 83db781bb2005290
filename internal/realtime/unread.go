package realtime

import (
	"sync"

	"go.uber.org/zap"
)

type unreadShard struct {
	mu     sync.Mutex
	counts map[string]map[string]int // user id -> chat id -> unread
}

// UnreadTracker derives the per-user-per-chat unread view from fan-out
// events plus registry presence. A member actively viewing the chat never
// accrues unread; everyone else accrues exactly one per message. Counters
// reset exactly once per transition into presence, and the reset is echoed
// to the user's other devices so every screen agrees.
type UnreadTracker struct {
	registry *Registry
	engine   *Engine
	log      *zap.SugaredLogger
	shards   [shardCount]*unreadShard
}

func NewUnreadTracker(registry *Registry, engine *Engine, log *zap.SugaredLogger) *UnreadTracker {
	t := &UnreadTracker{registry: registry, engine: engine, log: log}
	for i := range t.shards {
		t.shards[i] = &unreadShard{counts: make(map[string]map[string]int)}
	}
	engine.obs = t
	return t
}

func (t *UnreadTracker) shardFor(userID string) *unreadShard {
	return t.shards[shardIndex(userID)]
}

// notePublished implements the engine observer hook. Only new_message moves
// counters; presence is evaluated at send time.
func (t *UnreadTracker) notePublished(ev Event, members []string) {
	if ev.Kind != KindNewMessage || ev.ChatID == "" {
		return
	}
	for _, userID := range members {
		if userID == ev.SenderID {
			continue
		}
		if t.registry.IsPresent(userID, ev.ChatID) {
			continue
		}
		t.increment(userID, ev.ChatID)
	}
}

func (t *UnreadTracker) increment(userID, chatID string) {
	s := t.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts[userID] == nil {
		s.counts[userID] = make(map[string]int)
	}
	s.counts[userID][chatID]++
}

// Count returns the live unread counter for (userID, chatID).
func (t *UnreadTracker) Count(userID, chatID string) int {
	s := t.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[userID][chatID]
}

type chatUnreadPayload struct {
	ChatID      string `json:"chat_id"`
	UnreadCount int    `json:"unread_count"`
}

// OpenChat moves the connection into chatID (empty leaves the current chat)
// and, when this transitions the owning user into presence, zeroes the
// user's counter for that chat and echoes a chat_updated carrying the reset
// to the user's other live connections. The opening connection is skipped:
// opening the chat already implies the reset on that screen.
func (t *UnreadTracker) OpenChat(c *Conn, chatID string) {
	entered := t.registry.SetOpenChat(c, chatID)
	if !entered {
		return
	}

	s := t.shardFor(c.UserID)
	s.mu.Lock()
	if s.counts[c.UserID] != nil {
		delete(s.counts[c.UserID], chatID)
	}
	s.mu.Unlock()

	if err := t.engine.Publish(Event{
		Kind:     KindChatUpdated,
		UserID:   c.UserID,
		SkipConn: c.ID,
		Payload:  chatUnreadPayload{ChatID: chatID, UnreadCount: 0},
	}); err != nil {
		t.log.Errorw("unread reset echo failed",
			"user_id", c.UserID, "chat_id", chatID, "error", err)
	}
}

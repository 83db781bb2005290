package realtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type typingKey struct {
	chatID string
	userID string
}

type typingPayload struct {
	ChatID   string `json:"chat_id"`
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// TypingTracker holds ephemeral typing indicators. An indicator decays after
// a fixed quiet window unless refreshed, and a time-driven sweep fans out the
// implicit stop so an abandoned indicator never sticks on other screens.
// Typing is never persisted; loss on disconnect is acceptable.
type TypingTracker struct {
	engine *Engine
	log    *zap.SugaredLogger
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	expires map[typingKey]time.Time
}

func NewTypingTracker(engine *Engine, log *zap.SugaredLogger, window time.Duration) *TypingTracker {
	return &TypingTracker{
		engine:  engine,
		log:     log,
		window:  window,
		clock:   time.Now,
		expires: make(map[typingKey]time.Time),
	}
}

// Start marks userID as typing in chatID until the quiet window elapses; a
// repeated start refreshes the window. The indicator fans out to room
// members, skipping the originating connection.
func (t *TypingTracker) Start(chatID, userID, skipConn string) {
	t.mu.Lock()
	t.expires[typingKey{chatID, userID}] = t.clock().Add(t.window)
	t.mu.Unlock()

	t.publish(chatID, userID, skipConn, true)
}

// Stop clears the indicator immediately.
func (t *TypingTracker) Stop(chatID, userID, skipConn string) {
	t.mu.Lock()
	_, active := t.expires[typingKey{chatID, userID}]
	delete(t.expires, typingKey{chatID, userID})
	t.mu.Unlock()

	if active {
		t.publish(chatID, userID, skipConn, false)
	}
}

// Sweep clears entries whose window has elapsed and fans out an implicit
// stop for each. Driven by time, not events.
func (t *TypingTracker) Sweep() {
	now := t.clock()

	t.mu.Lock()
	var stale []typingKey
	for key, deadline := range t.expires {
		if !deadline.After(now) {
			stale = append(stale, key)
			delete(t.expires, key)
		}
	}
	t.mu.Unlock()

	for _, key := range stale {
		t.publish(key.chatID, key.userID, "", false)
	}
}

// Run drives Sweep until ctx is cancelled. The sweep interval is a fraction
// of the quiet window so decay lands within a small scheduling tolerance.
func (t *TypingTracker) Run(ctx context.Context) {
	interval := t.window / 4
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}

func (t *TypingTracker) publish(chatID, userID, skipConn string, isTyping bool) {
	err := t.engine.Publish(Event{
		Kind:     KindTypingState,
		ChatID:   chatID,
		SenderID: userID,
		SkipConn: skipConn,
		Payload:  typingPayload{ChatID: chatID, UserID: userID, IsTyping: isTyping},
	})
	if err != nil {
		t.log.Errorw("typing fan-out failed",
			"chat_id", chatID, "user_id", userID, "error", err)
	}
}

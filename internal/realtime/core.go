// Package realtime is the event delivery core: it turns a durably written
// chat action into a push to every affected live connection exactly once,
// and keeps the derived unread and typing views consistent with who is
// connected and which chat they have open. Persistence always happens before
// an event enters this package; nothing here blocks on storage.
package realtime

import (
	"time"

	"go.uber.org/zap"
)

// Core bundles the delivery subsystem: connection registry, room membership
// index, fan-out engine, unread and typing trackers, and the duplicate
// submission guard.
type Core struct {
	Registry *Registry
	Rooms    *Rooms
	Engine   *Engine
	Unread   *UnreadTracker
	Typing   *TypingTracker
	Guard    *Guard
}

// DefaultTypingWindow is the quiet period after which a typing indicator
// decays when neither refreshed nor stopped.
const DefaultTypingWindow = 2 * time.Second

func NewCore(log *zap.SugaredLogger, typingWindow time.Duration) *Core {
	if typingWindow <= 0 {
		typingWindow = DefaultTypingWindow
	}
	registry := NewRegistry(log)
	rooms := NewRooms()
	engine := NewEngine(registry, rooms, log)
	return &Core{
		Registry: registry,
		Rooms:    rooms,
		Engine:   engine,
		Unread:   NewUnreadTracker(registry, engine, log),
		Typing:   NewTypingTracker(engine, log, typingWindow),
		Guard:    NewGuard(),
	}
}

package realtime

import (
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// observer is notified after an event's audience has been resolved and its
// deliveries enqueued. The unread tracker hangs off this hook.
type observer interface {
	notePublished(ev Event, members []string)
}

// Engine resolves an event's audience and delivers its canonical payload on
// every live connection of every audience member. Delivery is best effort per
// connection: an offline member is a silent no-op (the durable write already
// happened, a poll recovers it) and one connection's fault never touches its
// siblings.
type Engine struct {
	registry *Registry
	rooms    *Rooms
	log      *zap.SugaredLogger
	clock    func() time.Time

	// dispatch serializes publishes per room so fan-out preserves publish
	// order within a chat. Striped rather than per-room so the lock table
	// stays fixed-size; enqueues under the lock never wait on socket I/O.
	dispatch [64]sync.Mutex

	obs observer
}

func NewEngine(registry *Registry, rooms *Rooms, log *zap.SugaredLogger) *Engine {
	return &Engine{
		registry: registry,
		rooms:    rooms,
		log:      log,
		clock:    time.Now,
	}
}

func (e *Engine) stripe(ev Event) *sync.Mutex {
	key := ev.ChatID
	if key == "" {
		key = ev.UserID
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return &e.dispatch[h.Sum32()%uint32(len(e.dispatch))]
}

// Publish fans ev out to its audience: the chat's current members when
// ChatID is set, plus the explicitly targeted user when UserID is set (used
// for direct notifications whose recipient may not be a room member, such as
// friend requests or a participant's own removal). Serialization failures
// abort with an error before anything reaches the transport.
func (e *Engine) Publish(ev Event) error {
	if ev.ChatID == "" && ev.UserID == "" {
		return ErrNoTarget
	}

	payload, err := ev.encode(e.clock())
	if err != nil {
		e.log.Errorw("event serialization failed",
			"event", ev.Kind, "chat_id", ev.ChatID, "user_id", ev.UserID, "error", err)
		return err
	}

	mu := e.stripe(ev)
	mu.Lock()
	defer mu.Unlock()

	var members []string
	if ev.ChatID != "" {
		members = e.rooms.Members(ev.ChatID)
	}
	audience := members
	if ev.UserID != "" && !contains(audience, ev.UserID) {
		audience = append(append([]string(nil), audience...), ev.UserID)
	}

	f := frame{kind: ev.Kind, payload: payload}
	for _, userID := range audience {
		for _, c := range e.registry.Connections(userID) {
			if c.ID == ev.SkipConn {
				continue
			}
			if err := c.deliver(f); err != nil {
				e.log.Warnw("event delivery skipped",
					"event", ev.Kind, "conn_id", c.ID, "user_id", userID, "error", err)
			}
		}
	}

	if e.obs != nil {
		e.obs.notePublished(ev, members)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

package realtime

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const shardCount = 32

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32() % shardCount
}

// Sink is the transport half of a connection: a one-way channel the engine
// pushes serialized events into. Implementations own the socket and its
// write deadline; Send errors are delivery faults for that connection only.
type Sink interface {
	Send(kind string, payload []byte) error
}

type frame struct {
	kind    Kind
	payload []byte
}

// Conn is one live client connection. A user may hold many (multi-device).
// openChat is guarded by the owning registry shard so presence reads and
// open-chat transitions for one user are linearizable.
type Conn struct {
	ID     string
	UserID string

	sink     Sink
	openChat string

	outbox    chan frame
	done      chan struct{}
	closeOnce sync.Once
}

// outboxDepth bounds how far a connection's reader may lag before enqueues
// start failing. Sized so a burst to a healthy client never trips it.
const outboxDepth = 256

// deliver enqueues one frame for the write loop. It never blocks: a full
// outbox means the client stalled past its delivery window and the frame is
// dropped as a per-connection fault, leaving siblings unaffected.
func (c *Conn) deliver(f frame) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.outbox <- f:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrOutboxFull
	}
}

// Deliver pushes a single already-serialized payload to this connection
// outside the fan-out path (acks, errors addressed to the submitter).
func (c *Conn) Deliver(kind Kind, payload []byte) error {
	return c.deliver(frame{kind: kind, payload: payload})
}

func (c *Conn) writeLoop(log *zap.SugaredLogger) {
	for {
		select {
		case <-c.done:
			return
		case f := <-c.outbox:
			if err := c.sink.Send(string(f.kind), f.payload); err != nil {
				log.Errorw("push delivery failed",
					"conn_id", c.ID, "user_id", c.UserID, "event", f.kind, "error", err)
			}
		}
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

type registryShard struct {
	mu      sync.RWMutex
	byUser  map[string]map[string]*Conn // user id -> conn id -> conn
	conns   map[string]*Conn            // conn id -> conn, conns homed on this shard
	touched map[string]time.Time        // user id -> last connect/disconnect
}

// Registry maps authenticated users to their live connections and each
// connection to the chat it currently has open. State is sharded by user id
// so unrelated users' traffic never contends on one lock.
type Registry struct {
	shards [shardCount]*registryShard
	log    *zap.SugaredLogger
	clock  func() time.Time
}

func NewRegistry(log *zap.SugaredLogger) *Registry {
	r := &Registry{log: log, clock: time.Now}
	for i := range r.shards {
		r.shards[i] = &registryShard{
			byUser:  make(map[string]map[string]*Conn),
			conns:   make(map[string]*Conn),
			touched: make(map[string]time.Time),
		}
	}
	return r
}

func (r *Registry) shardFor(userID string) *registryShard {
	return r.shards[shardIndex(userID)]
}

// Connect registers a new live connection for userID and starts its write
// loop. The returned Conn is the handle the transport layer keeps for the
// lifetime of the socket.
func (r *Registry) Connect(userID string, sink Sink) *Conn {
	c := &Conn{
		ID:     uuid.NewString(),
		UserID: userID,
		sink:   sink,
		outbox: make(chan frame, outboxDepth),
		done:   make(chan struct{}),
	}

	s := r.shardFor(userID)
	s.mu.Lock()
	if s.byUser[userID] == nil {
		s.byUser[userID] = make(map[string]*Conn)
	}
	s.byUser[userID][c.ID] = c
	s.conns[c.ID] = c
	s.touched[userID] = r.clock()
	s.mu.Unlock()

	go c.writeLoop(r.log)
	return c
}

// Disconnect removes the connection and cancels its pending deliveries.
// Sibling connections of the same user are untouched; their presence in any
// open chat survives.
func (r *Registry) Disconnect(c *Conn) {
	s := r.shardFor(c.UserID)
	s.mu.Lock()
	if set, ok := s.byUser[c.UserID]; ok {
		delete(set, c.ID)
		if len(set) == 0 {
			delete(s.byUser, c.UserID)
		}
	}
	delete(s.conns, c.ID)
	s.touched[c.UserID] = r.clock()
	s.mu.Unlock()

	c.close()
}

// SetOpenChat records which chat the connection is currently viewing; an
// empty chatID means none. It reports whether this call transitioned the
// owning user into presence for chatID, i.e. no other connection of the same
// user already had it open. Unread resets key off that transition.
func (r *Registry) SetOpenChat(c *Conn, chatID string) (entered bool) {
	s := r.shardFor(c.UserID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, live := s.conns[c.ID]; !live {
		return false
	}

	alreadyPresent := false
	if chatID != "" {
		for _, sibling := range s.byUser[c.UserID] {
			if sibling.ID != c.ID && sibling.openChat == chatID {
				alreadyPresent = true
				break
			}
		}
	}
	was := c.openChat
	c.openChat = chatID
	return chatID != "" && chatID != was && !alreadyPresent
}

// OpenChat returns the chat this connection currently has open, if any.
func (r *Registry) OpenChat(c *Conn) string {
	s := r.shardFor(c.UserID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return c.openChat
}

// IsPresent reports whether any live connection of userID has chatID open.
func (r *Registry) IsPresent(userID, chatID string) bool {
	if chatID == "" {
		return false
	}
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.byUser[userID] {
		if c.openChat == chatID {
			return true
		}
	}
	return false
}

// Connections snapshots the user's live connections for fan-out.
func (r *Registry) Connections(userID string) []*Conn {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.byUser[userID]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// LastSeen returns the time of the user's most recent connect or disconnect.
func (r *Registry) LastSeen(userID string) (time.Time, bool) {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.touched[userID]
	return t, ok
}

// Online reports whether the user has at least one live connection.
func (r *Registry) Online(userID string) bool {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byUser[userID]) > 0
}

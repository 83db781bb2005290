package realtime

import "sync"

type roomShard struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{} // chat id -> member user ids
}

// Rooms is the room membership index: which users an event targeting a chat
// fans out to. It mirrors durable chat membership and is hydrated lazily as
// users connect, so a fresh process converges without a bulk load. Sharded by
// chat id.
type Rooms struct {
	shards [shardCount]*roomShard
}

func NewRooms() *Rooms {
	r := &Rooms{}
	for i := range r.shards {
		r.shards[i] = &roomShard{rooms: make(map[string]map[string]struct{})}
	}
	return r
}

func (r *Rooms) shardFor(chatID string) *roomShard {
	return r.shards[shardIndex(chatID)]
}

func (r *Rooms) AddMember(chatID, userID string) {
	s := r.shardFor(chatID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rooms[chatID] == nil {
		s.rooms[chatID] = make(map[string]struct{})
	}
	s.rooms[chatID][userID] = struct{}{}
}

// RemoveMember takes effect before the removal's own confirmation event is
// published: a just-removed member never sees room-scoped events for actions
// that follow their removal.
func (r *Rooms) RemoveMember(chatID, userID string) {
	s := r.shardFor(chatID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.rooms[chatID]; ok {
		delete(set, userID)
		if len(set) == 0 {
			delete(s.rooms, chatID)
		}
	}
}

func (r *Rooms) IsMember(chatID, userID string) bool {
	s := r.shardFor(chatID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[chatID][userID]
	return ok
}

// Members snapshots the audience for a chat.
func (r *Rooms) Members(chatID string) []string {
	s := r.shardFor(chatID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.rooms[chatID]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

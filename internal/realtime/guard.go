package realtime

import "sync"

type guardShard struct {
	mu       sync.Mutex
	inflight map[string]struct{}
}

// Guard de-duplicates near-simultaneous duplicate submissions of the same
// logical action. The submitter supplies a token stable across retries
// (a client message id, an Idempotency-Key header); while a submission for
// (scope, token) is in flight, a second one with the same pair is rejected.
// The marker is released on completion whether the write succeeded or not,
// so a genuine retry after failure goes through.
type Guard struct {
	shards [shardCount]*guardShard
}

func NewGuard() *Guard {
	g := &Guard{}
	for i := range g.shards {
		g.shards[i] = &guardShard{inflight: make(map[string]struct{})}
	}
	return g
}

func guardKey(scope, token string) string {
	return scope + "\x00" + token
}

// Begin atomically records the in-flight marker. It returns false when a
// submission for the same (scope, token) is already in flight; the caller
// must then neither persist nor publish.
func (g *Guard) Begin(scope, token string) bool {
	key := guardKey(scope, token)
	s := g.shards[shardIndex(key)]
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.inflight[key]; dup {
		return false
	}
	s.inflight[key] = struct{}{}
	return true
}

// End releases the marker recorded by Begin.
func (g *Guard) End(scope, token string) {
	key := guardKey(scope, token)
	s := g.shards[shardIndex(key)]
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, key)
}

package realtime

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGuardCollapsesConcurrentDuplicates(t *testing.T) {
	g := NewGuard()

	const attempts = 64
	var admitted int64
	var wg sync.WaitGroup
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			if g.Begin("conn-1", "token-abc") {
				atomic.AddInt64(&admitted, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), admitted, "exactly one concurrent submission may proceed")
}

func TestGuardAllowsRetryAfterRelease(t *testing.T) {
	g := NewGuard()

	assert.True(t, g.Begin("conn-1", "token-abc"))
	assert.False(t, g.Begin("conn-1", "token-abc"))

	// End releases the marker regardless of whether the write succeeded, so
	// a legitimate retry with the same token goes through.
	g.End("conn-1", "token-abc")
	assert.True(t, g.Begin("conn-1", "token-abc"))
}

func TestGuardScopesAreIndependent(t *testing.T) {
	g := NewGuard()

	assert.True(t, g.Begin("conn-1", "token-abc"))
	assert.True(t, g.Begin("conn-2", "token-abc"), "same token from another connection is a different action")
	assert.True(t, g.Begin("conn-1", "token-xyz"))
}

func TestGuardEndWithoutBeginIsHarmless(t *testing.T) {
	g := NewGuard()
	g.End("conn-1", "never-started")
	assert.True(t, g.Begin("conn-1", "never-started"))
}

package ingest

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRepoLocks_TryAcquireRelease(t *testing.T) {
	l := newRepoLocks()

	assert.True(t, l.TryAcquire("user-repo"))
	assert.False(t, l.TryAcquire("user-repo"))

	// A different repository is not blocked.
	assert.True(t, l.TryAcquire("other-repo"))

	l.Release("user-repo")
	assert.True(t, l.TryAcquire("user-repo"))
}

func TestRepoLocks_ConcurrentAcquire(t *testing.T) {
	l := newRepoLocks()

	const workers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAcquire("user-repo") {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, acquired)
}

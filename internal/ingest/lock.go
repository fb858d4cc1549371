package ingest

import (
	"errors"
	"sync"
)

// ErrIngestInProgress is returned when an ingestion run is already active
// for the same repository id.
var ErrIngestInProgress = errors.New("ingestion already in progress for this repository")

// repoLocks serializes ingestion per repository id without blocking runs
// for other repositories.
type repoLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newRepoLocks() *repoLocks {
	return &repoLocks{held: make(map[string]bool)}
}

// TryAcquire attempts to take the lock for a repository id without
// blocking. Returns false if another run holds it.
func (l *repoLocks) TryAcquire(repoID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[repoID] {
		return false
	}
	l.held[repoID] = true
	return true
}

// Release frees the lock for a repository id. Must only be called by the
// run that acquired it.
func (l *repoLocks) Release(repoID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, repoID)
}

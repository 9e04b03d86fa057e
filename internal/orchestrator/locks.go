package orchestrator

import (
	"sync"

	"github.com/google/uuid"
)

// lockTable serializes job execution per project within this process. The
// queue already refuses to hand out two jobs of one project, so contention
// here only happens in the window between a stale-job recovery and the
// original worker noticing.
type lockTable struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{entries: make(map[uuid.UUID]*lockEntry)}
}

// acquire blocks until the project lock is held and returns its release
// function.
func (t *lockTable) acquire(projectID uuid.UUID) func() {
	t.mu.Lock()
	e, ok := t.entries[projectID]
	if !ok {
		e = &lockEntry{}
		t.entries[projectID] = e
	}
	e.refs++
	t.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		t.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(t.entries, projectID)
		}
		t.mu.Unlock()
	}
}

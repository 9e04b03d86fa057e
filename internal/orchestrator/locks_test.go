package orchestrator

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestLockTable_SerializesSameProject(t *testing.T) {
	table := newLockTable()
	projectID := uuid.New()

	var mu sync.Mutex
	running := 0
	maxRunning := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := table.acquire(projectID)
			defer release()

			mu.Lock()
			running++
			if running > maxRunning {
				maxRunning = running
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			running--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxRunning != 1 {
		t.Errorf("same project must run one job at a time, observed %d", maxRunning)
	}
	if len(table.entries) != 0 {
		t.Errorf("released locks should be evicted, %d entries remain", len(table.entries))
	}
}

func TestLockTable_DifferentProjectsIndependent(t *testing.T) {
	table := newLockTable()

	releaseA := table.acquire(uuid.New())
	done := make(chan struct{})
	go func() {
		releaseB := table.acquire(uuid.New())
		releaseB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("different projects must not block each other")
	}
	releaseA()
}

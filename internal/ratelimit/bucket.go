package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrAcquireTimeout is returned when a caller waited longer than the bucket's
// configured timeout for tokens. The orchestrator treats this as transient.
var ErrAcquireTimeout = errors.New("rate-limit-timeout")

// waiter is one blocked Acquire call. Waiters are served strictly in arrival
// order; only the head of the queue may take tokens.
type waiter struct {
	n     float64
	ready chan struct{}
}

// Bucket is a token bucket: capacity tokens, refilled at rate tokens/second.
// Safe for concurrent acquisition from multiple jobs.
type Bucket struct {
	mu       sync.Mutex
	capacity float64
	rate     float64
	tokens   float64
	last     time.Time
	waiters  []*waiter
	timer    *time.Timer
	timeout  time.Duration // 0 means wait forever (bounded only by ctx)
	now      func() time.Time
}

// NewBucket creates a full bucket. Timeout bounds how long a single Acquire
// may block before failing with ErrAcquireTimeout; zero disables it.
func NewBucket(capacity int, ratePerSec float64, timeout time.Duration) (*Bucket, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("bucket capacity must be positive, got %d", capacity)
	}
	if ratePerSec <= 0 {
		return nil, fmt.Errorf("bucket rate must be positive, got %g", ratePerSec)
	}
	b := &Bucket{
		capacity: float64(capacity),
		rate:     ratePerSec,
		tokens:   float64(capacity),
		now:      time.Now,
	}
	b.last = b.now()
	b.timeout = timeout
	return b, nil
}

// Acquire blocks until n tokens are available, then debits them atomically.
// Callers are served in arrival order. It fails with ErrAcquireTimeout after
// the bucket's timeout, or with the context error if ctx ends first.
func (b *Bucket) Acquire(ctx context.Context, n int) error {
	if n <= 0 {
		return fmt.Errorf("acquire count must be positive, got %d", n)
	}
	if float64(n) > b.capacity {
		return fmt.Errorf("acquire %d exceeds bucket capacity %g", n, b.capacity)
	}

	w := &waiter{n: float64(n), ready: make(chan struct{})}

	b.mu.Lock()
	b.waiters = append(b.waiters, w)
	b.dispatchLocked()
	b.mu.Unlock()

	var timeoutC <-chan time.Time
	if b.timeout > 0 {
		t := time.NewTimer(b.timeout)
		defer t.Stop()
		timeoutC = t.C
	}

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		if b.abandon(w) {
			return ctx.Err()
		}
		return nil // granted concurrently with cancellation
	case <-timeoutC:
		if b.abandon(w) {
			return ErrAcquireTimeout
		}
		return nil
	}
}

// abandon removes w from the queue. Returns false if the waiter was already
// served, in which case the tokens were debited and the acquire succeeded.
func (b *Bucket) abandon(w *waiter) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, q := range b.waiters {
		if q == w {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			b.dispatchLocked()
			return true
		}
	}
	return false
}

// Available reports the token count after refill, for introspection.
func (b *Bucket) Available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}

func (b *Bucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.rate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
	}
	b.last = now
}

// dispatchLocked serves queued waiters in FIFO order and, if the head cannot
// be served yet, arms a timer for the moment it can.
func (b *Bucket) dispatchLocked() {
	b.refillLocked()

	for len(b.waiters) > 0 {
		head := b.waiters[0]
		if b.tokens < head.n {
			break
		}
		b.tokens -= head.n
		b.waiters = b.waiters[1:]
		close(head.ready)
	}

	if len(b.waiters) == 0 {
		if b.timer != nil {
			b.timer.Stop()
		}
		return
	}

	deficit := b.waiters[0].n - b.tokens
	wait := time.Duration(deficit / b.rate * float64(time.Second))
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	if b.timer == nil {
		b.timer = time.AfterFunc(wait, b.dispatch)
	} else {
		b.timer.Reset(wait)
	}
}

func (b *Bucket) dispatch() {
	b.mu.Lock()
	b.dispatchLocked()
	b.mu.Unlock()
}

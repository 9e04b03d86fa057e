package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Limiter holds one bucket per provider/API key so quota enforcement spans
// every job that talks to the same provider.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*Bucket

	defaultCapacity int
	defaultRate     float64
	defaultTimeout  time.Duration
}

// NewLimiter creates a limiter whose unregistered buckets are created on
// first use with the given defaults.
func NewLimiter(capacity int, ratePerSec float64, timeout time.Duration) *Limiter {
	return &Limiter{
		buckets:         make(map[string]*Bucket),
		defaultCapacity: capacity,
		defaultRate:     ratePerSec,
		defaultTimeout:  timeout,
	}
}

// Register creates a named bucket with explicit limits, replacing any
// default-created one.
func (l *Limiter) Register(provider string, capacity int, ratePerSec float64, timeout time.Duration) error {
	b, err := NewBucket(capacity, ratePerSec, timeout)
	if err != nil {
		return fmt.Errorf("register bucket %q: %w", provider, err)
	}
	l.mu.Lock()
	l.buckets[provider] = b
	l.mu.Unlock()
	return nil
}

// Acquire debits n tokens from the provider's bucket, blocking per Bucket.Acquire.
func (l *Limiter) Acquire(ctx context.Context, provider string, n int) error {
	b, err := l.bucket(provider)
	if err != nil {
		return err
	}
	return b.Acquire(ctx, n)
}

func (l *Limiter) bucket(provider string) (*Bucket, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[provider]; ok {
		return b, nil
	}
	b, err := NewBucket(l.defaultCapacity, l.defaultRate, l.defaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("create bucket %q: %w", provider, err)
	}
	l.buckets[provider] = b
	return b, nil
}

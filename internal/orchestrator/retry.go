package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/loomworks/loom/internal/llm"
	"github.com/loomworks/loom/internal/ratelimit"
)

// isTransient extends the provider classification with rate-limiter acquire
// timeouts, which resolve as the bucket refills.
func isTransient(err error) bool {
	return llm.IsTransient(err) || errors.Is(err, ratelimit.ErrAcquireTimeout)
}

// retryTransient runs op up to maxAttempts times with exponential backoff,
// retrying only errors classified transient. Terminal errors return
// immediately; transient errors return after the last attempt.
func retryTransient(ctx context.Context, op func() error, maxAttempts int, baseDelay time.Duration) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}

		delay := baseDelay
		for i := 1; i < attempt; i++ {
			delay *= 2
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

package utils

import (
	"context"
	"time"
)

// Backoff returns the exponential delay for a zero-based attempt, capped at max when max > 0.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = 25 * time.Millisecond
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	d := time.Duration(1<<attempt) * base
	if max > 0 && d > max {
		d = max
	}
	return d
}

// Retry calls fn up to attempts times, sleeping Backoff between failures.
// It stops early when retryable reports false or ctx is done, and returns the last error.
func Retry(ctx context.Context, attempts int, base, max time.Duration, retryable func(error) bool, fn func(context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts-1 {
			break
		}
		timer := time.NewTimer(Backoff(attempt, base, max))
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}
	return lastErr
}

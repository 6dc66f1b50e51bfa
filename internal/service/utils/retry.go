package utils

import (
	"context"
	"errors"
	"time"
)

// Retry retries fn up to maxAttempts with exponential backoff, stopping early
// when ctx is done. Upload phases must never go through here.
func Retry[T any](ctx context.Context, maxAttempts int, initialDelay time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	if maxAttempts < 1 {
		return zero, errors.New("max attempts must be positive")
	}
	delay := initialDelay
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return zero, errors.Join(lastErr, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2 // Exponential backoff
	}
	return zero, lastErr
}

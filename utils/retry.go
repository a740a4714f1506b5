package utils

import (
	"fmt"
	"time"
)

// RetryConfig drives retry with exponential back-off. The page scraper uses
// it so a flaky render does not abort the whole run.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Logger      *Logger
}

// Do runs fn up to MaxAttempts times, doubling the delay between attempts.
// The returned error wraps the last failure.
func (r *RetryConfig) Do(op string, fn func() error) error {
	var lastErr error
	delay := r.BaseDelay

	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if attempt < r.MaxAttempts {
			r.Logger.Warn("[retry] %s attempt %d/%d failed, next try in %v: %v",
				op, attempt, r.MaxAttempts, delay, lastErr)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", op, r.MaxAttempts, lastErr)
}

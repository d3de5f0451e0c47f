// Package backoff holds the retry schedule shared by the push queue
// processor and anything else that reschedules failed work.
package backoff

import (
	"context"
	"fmt"
	"time"
)

const (
	// Base is the delay after the first failure.
	Base = time.Second
	// Cap bounds the exponential schedule.
	Cap = time.Hour
)

// Delay returns the wait before the next attempt given how many
// attempts have already failed.
//
// Schedule: 0 failures → 1s, 1 → 2s, 2 → 4s, 5 → 32s, capped at 1h.
func Delay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	// 2^22 seconds already exceeds the cap; avoid shift overflow.
	if attempts > 22 {
		return Cap
	}
	d := Base << uint(attempts)
	if d > Cap || d <= 0 {
		return Cap
	}
	return d
}

// Config controls Do.
type Config struct {
	// MaxAttempts is the total number of calls including the first.
	MaxAttempts int
	// OnRetry is called after a failed attempt and before the next
	// delay. attempt is 1-indexed (1 = first attempt just failed).
	OnRetry func(attempt int, err error)
}

// Do calls fn up to cfg.MaxAttempts times, waiting Delay(failures)
// between attempts. Returns nil on first success, or the last error.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr)
		}

		select {
		case <-time.After(Delay(attempt - 1)):
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
		}
	}
	return lastErr
}

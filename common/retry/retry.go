// Package retry bounds transient generation-backend failures with an
// exponential backoff. The caller classifies errors through ShouldRetry;
// once the attempt budget is spent the last error is returned and the
// boundary above decides how to degrade.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	fallbackInitialDelay = 500 * time.Millisecond
	fallbackMaxDelay     = 10 * time.Second
)

// Config bounds one retried call.
type Config struct {
	// MaxAttempts is the total attempt budget, first call included. Values
	// below 1 mean a single attempt.
	MaxAttempts int
	// InitialDelay is the pause before the second attempt. Each later
	// pause doubles, capped at MaxDelay.
	InitialDelay time.Duration
	// MaxDelay caps the pause between attempts.
	MaxDelay time.Duration
	// ShouldRetry classifies errors as transient or permanent. Nil retries
	// every error.
	ShouldRetry func(err error) bool
}

// Do calls fn until it succeeds, the error is classified permanent, the
// budget runs out, or ctx ends. The last attempt's error is returned.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := cfg.InitialDelay
	if delay <= 0 {
		delay = fallbackInitialDelay
	}
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = fallbackMaxDelay
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(last, err)
		}

		if last = fn(); last == nil {
			return nil
		}
		if cfg.ShouldRetry != nil && !cfg.ShouldRetry(last) {
			return last
		}
		if attempt == attempts {
			break
		}

		slog.Debug("transient failure, backing off",
			"attempt", attempt, "budget", attempts,
			"delay", delay.String(), "err", last)
		select {
		case <-ctx.Done():
			return errors.Join(last, ctx.Err())
		case <-time.After(delay):
		}
		if delay *= 2; delay > maxDelay {
			delay = maxDelay
		}
	}
	return last
}

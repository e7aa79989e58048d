// Package retry runs delivery actions with bounded attempts and
// exponential backoff, independent of which channel they wrap.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Executor retries an action up to Attempts times, sleeping
// base*2^(n-1) between failures. A sequence always runs to terminal
// success or failure; the sleeps block only the calling goroutine.
type Executor struct {
	attempts int
	base     time.Duration
	log      *slog.Logger
	sleep    func(time.Duration)
}

func New(attempts int, base time.Duration, log *slog.Logger) *Executor {
	return &Executor{
		attempts: attempts,
		base:     base,
		log:      log,
		sleep:    time.Sleep,
	}
}

// NewWithSleep injects the sleep function so tests run without waiting.
func NewWithSleep(attempts int, base time.Duration, log *slog.Logger, sleep func(time.Duration)) *Executor {
	e := New(attempts, base, log)
	e.sleep = sleep
	return e
}

// Do calls fn until it succeeds or attempts are exhausted. The terminal
// error is returned for the caller to log; it is never escalated past
// that. ctx is passed through to the action only, intermediate failures
// are logged with the label for traceability.
func (e *Executor) Do(ctx context.Context, label string, fn func(context.Context) error) error {
	delay := e.base
	var lastErr error
	for attempt := 1; attempt <= e.attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		e.log.Warn("delivery attempt failed",
			"label", label,
			"attempt", attempt,
			"max_attempts", e.attempts,
			"error", lastErr,
		)
		if attempt < e.attempts {
			e.sleep(delay)
			delay *= 2
		}
	}
	return fmt.Errorf("%s: %d attempts exhausted: %w", label, e.attempts, lastErr)
}

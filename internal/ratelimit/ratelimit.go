// Package ratelimit gates notification attempts per (channel, recipient)
// pair so an event storm cannot flood a responder's phone.
package ratelimit

import (
	"sync"
	"time"
)

type key struct {
	channel   string
	recipient string
}

// Limiter is a leaky bucket of size one per key: at most one attempt per
// window, measured from the start of the previous permitted attempt.
// Suppressed attempts leave the window untouched. Entries live for the
// process lifetime. Safe for concurrent use by fan-out goroutines.
type Limiter struct {
	mu     sync.Mutex
	window time.Duration
	last   map[key]time.Time
	now    func() time.Time
}

func New(window time.Duration) *Limiter {
	return NewWithClock(window, time.Now)
}

// NewWithClock builds a limiter on an injected clock.
func NewWithClock(window time.Duration, now func() time.Time) *Limiter {
	return &Limiter{
		window: window,
		last:   make(map[key]time.Time),
		now:    now,
	}
}

// Allow reports whether a new attempt to the key is permitted and, if so,
// records the attempt time. The attempt is recorded whether or not the
// delivery later succeeds: the limiter gates attempts, not successes.
func (l *Limiter) Allow(channel, recipient string) bool {
	k := key{channel: channel, recipient: recipient}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if last, ok := l.last[k]; ok && now.Sub(last) < l.window {
		return false
	}
	l.last[k] = now
	return true
}

// Wait reports how long until the key is permitted again; zero when an
// attempt would be allowed now. Used only for log context.
func (l *Limiter) Wait(channel, recipient string) time.Duration {
	k := key{channel: channel, recipient: recipient}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	last, ok := l.last[k]
	if !ok {
		return 0
	}
	if remain := l.window - now.Sub(last); remain > 0 {
		return remain
	}
	return 0
}

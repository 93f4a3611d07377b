// Package ratelimit provides a minimal token-bucket limiter used to keep
// martian diagnostic logging from flooding the log when a peer is
// misbehaving (e.g. a storm of malformed Connection-Initiate segments).
package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a simple token bucket: it gains one token per elapsed refill
// interval, up to burst capacity, and Allow reports whether a token was
// available.
type Limiter struct {
	mu       sync.Mutex
	burst    int
	tokens   int
	refill   time.Duration
	lastFill time.Time
	now      func() time.Time
}

// New creates a Limiter that allows burst events immediately, then one
// additional event per refill interval.
func New(burst int, refill time.Duration) *Limiter {
	return &Limiter{
		burst:    burst,
		tokens:   burst,
		refill:   refill,
		lastFill: time.Now(),
		now:      time.Now,
	}
}

// Allow reports whether the caller may proceed, consuming a token if so.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if elapsed := now.Sub(l.lastFill); elapsed >= l.refill && l.tokens < l.burst {
		l.tokens += int(elapsed / l.refill)
		if l.tokens > l.burst {
			l.tokens = l.burst
		}
		l.lastFill = now
	}
	if l.tokens <= 0 {
		return false
	}
	l.tokens--
	return true
}

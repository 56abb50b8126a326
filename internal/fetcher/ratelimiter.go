// Package fetcher is the HTTP boundary to ESI: a rate limiter guarding a
// single shared client, and a retrying Do wrapper that classifies
// upstream failures the way spec.md §4.2 requires. The limiter is not a
// token bucket: it spaces requests at least 500ms apart and admits one
// request in flight at a time, with no configurable rate or burst.
//
// Grounded on internal/zkillboard/services/rate_limiter.go (the limiter
// shape) and pkg/evegateway/retry.go (the retry/backoff classification).
package fetcher

import (
	"fmt"
	"sync"
	"time"
)

// RateLimiter enforces a minimum spacing between requests and escalates a
// backoff level whenever the caller reports a rate-limit response.
type RateLimiter struct {
	mu              sync.Mutex
	requestInFlight bool
	lastRequest     time.Time
	minInterval     time.Duration
	backoffLevel    int
	baseBackoff     time.Duration
	maxBackoff      time.Duration
}

// NewRateLimiter builds a RateLimiter with a 500ms minimum interval between
// requests and a 1s base backoff doubling up to a 30s ceiling, matching the
// retry contract every upstream HTTP call in this package follows.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		minInterval: 500 * time.Millisecond,
		baseBackoff: 1 * time.Second,
		maxBackoff:  30 * time.Second,
	}
}

// Acquire blocks until the minimum interval has elapsed, then marks a
// request in flight. Returns an error if a request is already in flight —
// callers are expected to serialize through a single fetcher.
func (l *RateLimiter) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.requestInFlight {
		return fmt.Errorf("request already in flight")
	}

	elapsed := time.Since(l.lastRequest)
	if elapsed < l.minInterval {
		time.Sleep(l.minInterval - elapsed)
	}

	l.requestInFlight = true
	l.lastRequest = time.Now()
	return nil
}

// Release marks the in-flight request as complete.
func (l *RateLimiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requestInFlight = false
}

// IncrementBackoff escalates the backoff level by one. GetBackoffDuration
// caps the resulting duration at maxBackoff, so there's no need to cap the
// level itself here.
func (l *RateLimiter) IncrementBackoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.backoffLevel++
}

// GetBackoffDuration returns the current backoff duration: baseBackoff
// doubled once per backoff level (1s, 2s, 4s, ...), capped at maxBackoff.
func (l *RateLimiter) GetBackoffDuration() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	d := l.baseBackoff * time.Duration(int64(1)<<uint(l.backoffLevel))
	if d > l.maxBackoff {
		d = l.maxBackoff
	}
	return d
}

// Reset clears all rate limit state, including any active backoff.
func (l *RateLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requestInFlight = false
	l.backoffLevel = 0
	l.lastRequest = time.Time{}
}

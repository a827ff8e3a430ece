package generator

import (
	"sync"
	"time"
)

const (
	// DefaultRateLimit is the number of remote generations a session may
	// start per window.
	DefaultRateLimit  = 10
	defaultRateWindow = time.Minute
)

// RateLimiter is a per-key sliding-window limiter. It is safe for
// concurrent use.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	now    func() time.Time
	calls  map[string][]time.Time
}

// NewRateLimiter allows limit calls per key within window. Non-positive
// arguments select the defaults. now may be nil to use the wall clock.
func NewRateLimiter(limit int, window time.Duration, now func() time.Time) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = defaultRateWindow
	}
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		limit:  limit,
		window: window,
		now:    now,
		calls:  make(map[string][]time.Time),
	}
}

// Allow records a call for key and reports whether it fits the window.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	live := r.prune(key, now)
	if len(live) >= r.limit {
		r.calls[key] = live
		return false
	}
	r.calls[key] = append(live, now)
	return true
}

// Remaining reports how many calls key may still make in the window.
func (r *RateLimiter) Remaining(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	live := r.prune(key, r.now())
	r.calls[key] = live
	if n := r.limit - len(live); n > 0 {
		return n
	}
	return 0
}

// Forget drops the history of key, used when a session closes.
func (r *RateLimiter) Forget(key string) {
	r.mu.Lock()
	delete(r.calls, key)
	r.mu.Unlock()
}

// prune returns the calls of key still inside the window. r.mu must be held.
func (r *RateLimiter) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-r.window)
	calls := r.calls[key]
	live := calls[:0]
	for _, t := range calls {
		if t.After(cutoff) {
			live = append(live, t)
		}
	}
	return live
}

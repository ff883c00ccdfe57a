package wsclient

import (
	"sync"
	"time"
)

// RateLimiter is an outbound sliding-window limiter.
// It keeps one channel below the server's per-connection event budget.
type RateLimiter struct {
	mu     sync.Mutex
	events []time.Time
	limit  int
	window time.Duration
}

// NewRateLimiter constructs a RateLimiter; invalid inputs fall back to the defaults.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateEvents
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &RateLimiter{
		events: make([]time.Time, 0, limit),
		limit:  limit,
		window: window,
	}
}

// Reserve records an event at now when the window has room.
// Otherwise it returns how long to wait before the oldest event leaves the window.
func (r *RateLimiter) Reserve(now time.Time) (ok bool, wait time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cut := now.Add(-r.window)
	dst := r.events[:0]
	for _, t := range r.events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	r.events = dst

	if len(r.events) >= r.limit {
		return false, r.events[0].Sub(cut)
	}
	r.events = append(r.events, now)
	return true, 0
}

package realtime

import (
	"sync"
	"time"
)

// RateLimiter bounds how many envelopes one connection may submit within a
// sliding window. Every connection owns its limiter, so a chatty peer only
// throttles itself.
//
// Timestamps are kept in arrival order. Expired entries are skipped by
// advancing a head index; the backing slice is compacted only once the dead
// prefix dominates it, so steady traffic never reallocates.
type RateLimiter struct {
	mu     sync.Mutex
	stamps []time.Time
	head   int
	limit  int
	window time.Duration
}

// NewRateLimiter constructs a limiter for limit events per window. The
// gateway supplies both from its environment-driven settings; non-positive
// inputs degrade to one event per second rather than no limit at all.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &RateLimiter{
		stamps: make([]time.Time, 0, limit),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether an event at time "now" fits inside the window, and
// records it if so.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cut := now.Add(-r.window)
	for r.head < len(r.stamps) && !r.stamps[r.head].After(cut) {
		r.head++
	}
	if r.head > 0 && r.head*2 >= len(r.stamps) {
		n := copy(r.stamps, r.stamps[r.head:])
		r.stamps = r.stamps[:n]
		r.head = 0
	}

	if len(r.stamps)-r.head >= r.limit {
		return false
	}
	r.stamps = append(r.stamps, now)
	return true
}

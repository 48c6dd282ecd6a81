package realtime

import (
	"testing"
	"time"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 5, 22, 10, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(3, 10*time.Second)

	for i := 0; i < 3; i++ {
		if !rl.Allow(base.Add(time.Duration(i) * time.Second)) {
			t.Fatalf("event %d: denied under limit", i)
		}
	}
	if rl.Allow(base.Add(3 * time.Second)) {
		t.Fatal("fourth event inside window allowed")
	}

	// The first stamp ages out of the window and frees one slot.
	if !rl.Allow(base.Add(10*time.Second + time.Millisecond)) {
		t.Fatal("event after window slid denied")
	}
	if rl.Allow(base.Add(10*time.Second + 2*time.Millisecond)) {
		t.Fatal("window should be full again")
	}
}

func TestRateLimiterDegradedInputs(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 5, 22, 10, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(0, 0)

	if !rl.Allow(now) {
		t.Fatal("first event denied")
	}
	if rl.Allow(now) {
		t.Fatal("second event at the same instant allowed")
	}
	if !rl.Allow(now.Add(1100 * time.Millisecond)) {
		t.Fatal("event after fallback window denied")
	}
}

func TestRateLimiterStampsStayBounded(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 5, 22, 10, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(5, 3*time.Second)

	// Long-running traffic well under the limit must not accumulate stamps.
	for i := 0; i < 1000; i++ {
		if !rl.Allow(base.Add(time.Duration(i) * time.Second)) {
			t.Fatalf("event %d: denied at one event per second", i)
		}
	}
	if got := len(rl.stamps) - rl.head; got > 5 {
		t.Fatalf("live stamps=%d, want at most the limit", got)
	}
	if len(rl.stamps) > 2*rl.limit {
		t.Fatalf("backing slice grew to %d entries", len(rl.stamps))
	}
}

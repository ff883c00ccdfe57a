package wsclient

import (
	"testing"
	"time"
)

func TestRateLimiter_Reserve(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(2, time.Second)
	t0 := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	if ok, _ := rl.Reserve(t0); !ok {
		t.Fatalf("first reserve denied")
	}
	if ok, _ := rl.Reserve(t0.Add(100 * time.Millisecond)); !ok {
		t.Fatalf("second reserve denied")
	}

	ok, wait := rl.Reserve(t0.Add(200 * time.Millisecond))
	if ok {
		t.Fatalf("third reserve allowed")
	}
	if wait != 800*time.Millisecond {
		t.Fatalf("wait=%v want=800ms", wait)
	}

	if ok, _ := rl.Reserve(t0.Add(time.Second + time.Millisecond)); !ok {
		t.Fatalf("reserve after window denied")
	}
}

func TestRateLimiter_Defaults(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(0, 0)
	if rl.limit != DefaultRateEvents || rl.window != DefaultRateWindow {
		t.Fatalf("limit=%d window=%v", rl.limit, rl.window)
	}
}

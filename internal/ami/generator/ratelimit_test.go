package generator_test

import (
	"testing"
	"time"

	"github.com/thriveai/ami/internal/ami/generator"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rl := generator.NewRateLimiter(2, time.Minute, func() time.Time { return now })

	if !rl.Allow("s1") || !rl.Allow("s1") {
		t.Fatal("first two calls should be allowed")
	}
	if rl.Allow("s1") {
		t.Fatal("third call inside the window should be denied")
	}
	if !rl.Allow("s2") {
		t.Fatal("keys are limited independently")
	}
	if got := rl.Remaining("s1"); got != 0 {
		t.Fatalf("expected 0 remaining, got %d", got)
	}

	now = now.Add(61 * time.Second)
	if got := rl.Remaining("s1"); got != 2 {
		t.Fatalf("expected window to reset, remaining %d", got)
	}
	if !rl.Allow("s1") {
		t.Fatal("call after the window should be allowed")
	}
}

func TestRateLimiterForget(t *testing.T) {
	rl := generator.NewRateLimiter(1, time.Hour, nil)
	rl.Allow("s1")
	if rl.Allow("s1") {
		t.Fatal("expected denial")
	}
	rl.Forget("s1")
	if !rl.Allow("s1") {
		t.Fatal("Forget should clear history")
	}
}

func TestRateLimiterDefaults(t *testing.T) {
	rl := generator.NewRateLimiter(0, 0, nil)
	if got := rl.Remaining("x"); got != generator.DefaultRateLimit {
		t.Fatalf("expected default limit %d, got %d", generator.DefaultRateLimit, got)
	}
}

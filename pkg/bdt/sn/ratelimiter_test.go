package sn

import (
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToCapacity(t *testing.T) {
	rl := NewRateLimiter(3, time.Hour)
	for i := 0; i < 3; i++ {
		if !rl.Allow("device-a") {
			t.Fatalf("request %d should be allowed within capacity", i)
		}
	}
	if rl.Allow("device-a") {
		t.Fatal("request beyond capacity should be rejected")
	}
}

func TestRateLimiterRefillsOverTime(t *testing.T) {
	rl := NewRateLimiter(1, 10*time.Millisecond)
	if !rl.Allow("device-b") {
		t.Fatal("first request should be allowed")
	}
	if rl.Allow("device-b") {
		t.Fatal("second immediate request should be rejected")
	}

	time.Sleep(20 * time.Millisecond)
	if !rl.Allow("device-b") {
		t.Fatal("request after refill interval should be allowed")
	}
}

func TestRateLimiterTracksKeysIndependently(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)
	if !rl.Allow("device-a") {
		t.Fatal("device-a first request should be allowed")
	}
	if !rl.Allow("device-b") {
		t.Fatal("device-b first request should be allowed independent of device-a")
	}
}

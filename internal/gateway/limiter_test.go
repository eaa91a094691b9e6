package gateway

import (
	"testing"
	"time"
)

func TestRateLimiter(t *testing.T) {
	l := NewRateLimiter(2, time.Second)
	now := time.Now()
	if !l.Allow("u1", now) {
		t.Fatalf("first should pass")
	}
	if !l.Allow("u1", now.Add(100*time.Millisecond)) {
		t.Fatalf("second should pass")
	}
	if l.Allow("u1", now.Add(200*time.Millisecond)) {
		t.Fatalf("third should be blocked")
	}
	if !l.Allow("u1", now.Add(2*time.Second)) {
		t.Fatalf("should pass after window")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	l := NewRateLimiter(0, time.Second)
	if l != nil {
		t.Fatalf("zero limit must disable limiter")
	}
	for i := 0; i < 100; i++ {
		if !l.Allow("u1", time.Now()) {
			t.Fatalf("nil limiter must allow everything")
		}
	}
}

func TestRateLimiterSweepsIdleClients(t *testing.T) {
	l := NewRateLimiter(1, time.Second)
	now := time.Now()
	l.Allow("idle", now)
	l.Allow("active", now.Add(5*time.Second))
	if _, ok := l.events["idle"]; ok {
		t.Fatalf("idle client must be swept")
	}
}

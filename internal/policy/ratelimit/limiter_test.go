package ratelimit

import (
	"testing"
	"time"
)

func TestLimiter_Allow(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	l := New(Config{DefaultRPS: 1, DefaultBurst: 2})
	l.now = func() time.Time { return now }

	if !l.Allow("10.0.0.1") || !l.Allow("10.0.0.1") {
		t.Fatal("expected burst of 2 to be allowed")
	}
	if l.Allow("10.0.0.1") {
		t.Fatal("expected third join within the same second to be refused")
	}

	now = now.Add(time.Second)
	if !l.Allow("10.0.0.1") {
		t.Fatal("expected a token to be refilled after one second")
	}
}

func TestLimiter_DifferentClients(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	l.now = func() time.Time { return now }

	if !l.Allow("a") {
		t.Fatal("client a refused")
	}
	// Client b should not be blocked by a.
	if !l.Allow("b") {
		t.Fatal("client b blocked unexpectedly")
	}
	if l.Allow("a") {
		t.Fatal("client a should be throttled")
	}
}

func TestLimiter_ForgetsIdleClients(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	l.now = func() time.Time { return now }

	l.Allow("a")
	l.Allow("b")
	if l.Len() != 2 {
		t.Fatalf("expected 2 clients, got %d", l.Len())
	}
	now = now.Add(idleTTL + time.Second)
	l.Allow("c")
	if l.Len() != 1 {
		t.Fatalf("expected idle clients to be dropped, got %d", l.Len())
	}
}

func TestLimiter_Disabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for i := 0; i < 100; i++ {
		if !l.Allow("a") {
			t.Fatal("unlimited limiter refused a join")
		}
	}
	var nilLimiter *Limiter
	if !nilLimiter.Allow("a") {
		t.Fatal("nil limiter must allow")
	}
}

package ratelimit

import (
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestTokenBucketStartsFull(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	b := NewTokenBucket(clk, 3, 1)

	for i := 0; i < 3; i++ {
		if !b.Allow(1) {
			t.Fatalf("Allow #%d = false, want true", i+1)
		}
	}
	if b.Allow(1) {
		t.Fatal("Allow after capacity exhausted = true, want false")
	}
}

func TestTokenBucketRefills(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	b := NewTokenBucket(clk, 2, 2)

	if !b.Allow(2) {
		t.Fatal("initial Allow(2) = false")
	}
	if b.Allow(1) {
		t.Fatal("Allow on empty bucket = true")
	}

	clk.Advance(500 * time.Millisecond) // refills 1 token at 2/sec
	if !b.Allow(1) {
		t.Fatal("Allow after partial refill = false")
	}
	if b.Allow(1) {
		t.Fatal("Allow beyond refilled amount = true")
	}

	clk.Advance(time.Hour) // clamps at capacity
	if !b.Allow(2) {
		t.Fatal("Allow(2) after long idle = false")
	}
	if b.Allow(1) {
		t.Fatal("Allow beyond capacity after clamp = true")
	}
}

func TestTokenBucketTimeGoingBackwards(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	b := NewTokenBucket(clk, 1, 1)

	if !b.Allow(1) {
		t.Fatal("initial Allow = false")
	}

	clk.now = time.Unix(500, 0)
	if b.Allow(1) {
		t.Fatal("Allow after time regression = true, want false (no refill)")
	}
}

func TestTokenBucketNonPositiveCost(t *testing.T) {
	b := NewTokenBucket(&fakeClock{now: time.Unix(0, 0)}, 0, 0)
	if !b.Allow(0) {
		t.Fatal("Allow(0) = false, want true")
	}
	if !b.Allow(-5) {
		t.Fatal("Allow(-5) = false, want true")
	}
	if b.Allow(1) {
		t.Fatal("Allow(1) on zero-capacity bucket = true")
	}
}

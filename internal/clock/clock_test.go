package clock

import "testing"

func TestNextStrictlyIncreasing(t *testing.T) {
	t.Parallel()

	c := New()

	var last float64

	for i := 0; i < 10000; i++ {
		ts := c.Next()
		if ts <= last {
			t.Fatalf("iteration %d: timestamp %v not greater than previous %v", i, ts, last)
		}

		last = ts
	}
}

func TestPeekReflectsLastNext(t *testing.T) {
	t.Parallel()

	c := New()

	if got := c.Peek(); got != 0 {
		t.Fatalf("expected 0 before any Next call, got %v", got)
	}

	ts := c.Next()
	if got := c.Peek(); got != ts {
		t.Fatalf("Peek() = %v, want %v", got, ts)
	}
}

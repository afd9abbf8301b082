// Package clock allocates dobbin's transaction timestamps: a
// monotonically non-decreasing scalar derived from wall-clock time, with
// enforced strict monotonicity (spec §3, §9 "Clock resolution").
package clock

import (
	"math"
	"sync"
	"time"
)

// Clock hands out strictly increasing timestamps. The zero value is not
// usable; use [New].
type Clock struct {
	mu   sync.Mutex
	last float64
}

// New returns a Clock that has allocated nothing yet: Peek reports 0
// until the first Next, which reads the wall clock.
func New() *Clock {
	return &Clock{}
}

// Next returns a timestamp strictly greater than every timestamp
// previously returned by this Clock. When the wall clock's resolution is
// coarser than the call rate, it bumps the previous value by the smallest
// representable increment instead of returning a duplicate.
func (c *Clock) Next() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := float64(time.Now().UnixNano()) / 1e9
	if now <= c.last {
		now = math.Nextafter(c.last, math.Inf(1))
	}

	c.last = now

	return now
}

// Peek returns the most recently allocated timestamp without advancing the
// clock, or 0 if Next has never been called.
func (c *Clock) Peek() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.last
}

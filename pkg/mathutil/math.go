package mathutil

import (
	"cmp"
	"time"
)

// AbsDuration returns the absolute value of a duration
func AbsDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// Clamp clamps a value between lo and hi
func Clamp[T cmp.Ordered](val, lo, hi T) T {
	if val < lo {
		return lo
	}
	if val > hi {
		return hi
	}
	return val
}

// Credit is a saturating counter in [0, Max]
type Credit struct {
	Value int
	Max   int
}

// Add increments the counter by n, saturating at Max, and reports whether
// the counter is saturated afterwards
func (c *Credit) Add(n int) bool {
	c.Value = min(c.Max, c.Value+n)
	return c.Value == c.Max
}

// Sub decrements the counter by n, saturating at 0, and reports whether the
// counter is drained afterwards
func (c *Credit) Sub(n int) bool {
	c.Value = max(0, c.Value-n)
	return c.Value == 0
}

// Set stores v clamped to [0, Max]
func (c *Credit) Set(v int) {
	c.Value = Clamp(v, 0, c.Max)
}

// Saturated reports whether the counter is at Max
func (c *Credit) Saturated() bool {
	return c.Value == c.Max
}

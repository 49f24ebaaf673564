package collaborators

import "time"

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() int64 { return time.Now().Unix() }

// FixedClock is a Clock for tests that always reports the same instant
// until advanced.
type FixedClock struct {
	unix int64
}

// NewFixedClock returns a FixedClock pinned to t.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{unix: t.Unix()}
}

func (c *FixedClock) Now() int64 { return c.unix }

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.unix += int64(d.Seconds())
}

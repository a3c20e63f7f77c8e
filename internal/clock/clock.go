// Package clock abstracts the current time so scheduling decisions are
// reproducible. Production code injects Real(); tests inject Fixed().
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

func Real() Clock { return realClock{} }

// Fixed returns a clock that stands still at t until Set or Advance is called.
func Fixed(t time.Time) *FixedClock {
	return &FixedClock{now: t.UTC()}
}

type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t.UTC()
	c.mu.Unlock()
}

func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

package ledger

import (
	"sync"
	"time"
)

// Clock supplies "now" to ledger operations at the service boundary.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the host wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// MonotonicClock never returns a time earlier than one it already returned, so
// phase computation for an auction never observes time going backwards even if
// the wrapped clock is stepped back.
type MonotonicClock struct {
	src Clock

	mu   sync.Mutex
	last time.Time
}

// NewMonotonicClock wraps src; a nil src uses SystemClock.
func NewMonotonicClock(src Clock) *MonotonicClock {
	if src == nil {
		src = SystemClock{}
	}
	return &MonotonicClock{src: src}
}

func (c *MonotonicClock) Now() time.Time {
	now := c.src.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Before(c.last) {
		return c.last
	}
	c.last = now
	return now
}

// FixedClock is a manually driven clock.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFixedClock(t time.Time) *FixedClock { return &FixedClock{now: t} }

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t, forwards or backwards.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

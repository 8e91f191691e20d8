package utils

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Clock holds the simulated date in seconds.
//
// The engine is the only writer. Readers outside the simulation goroutines (the
// daemon reporting progress) go through the lock.
type Clock struct {
	mu      sync.RWMutex
	current float64
}

// NewClock creates a clock starting at the given date.
func NewClock(start float64) *Clock {
	return &Clock{current: start}
}

// Now returns the current simulated date.
func (c *Clock) Now() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Advance moves the clock forward by delta seconds. Negative deltas are ignored.
func (c *Clock) Advance(delta float64) {
	if delta <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current += delta
}

// Set moves the clock to date. The clock never goes backwards.
func (c *Clock) Set(date float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if date > c.current {
		c.current = date
	}
}

// Until returns the simulated time remaining until date.
func (c *Clock) Until(date float64) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return date - c.current
}

// SecondsToDuration converts simulated seconds to a time.Duration.
func SecondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// FormatSimTime renders a simulated date for logs.
func FormatSimTime(s float64) string {
	if math.IsInf(s, 1) {
		return "inf"
	}
	if s < 0 {
		return "never"
	}
	return fmt.Sprintf("%.6fs", s)
}

// MinDate returns the earliest of the given dates, ignoring negative values
// (which stand for "no date"). It returns -1 when every date is negative.
func MinDate(dates ...float64) float64 {
	best := -1.0
	for _, d := range dates {
		if d < 0 {
			continue
		}
		if best < 0 || d < best {
			best = d
		}
	}
	return best
}

// Package poll provides a deadline-bounded polling loop with an injectable
// clock so callers can be tested without sleeping.
package poll

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned when the predicate is not satisfied before the
// timeout elapses.
var ErrTimeout = errors.New("poll timed out")

// Clock abstracts time for the poll loop.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Condition is evaluated on every poll. Returning done=true stops the loop
// successfully; a non-nil error stops it with that error.
type Condition func(ctx context.Context) (done bool, err error)

// Until evaluates cond immediately and then every interval until it reports
// done, returns an error, the timeout elapses, or ctx is cancelled.
// A nil clock uses RealClock.
func Until(ctx context.Context, clock Clock, interval, timeout time.Duration, cond Condition) error {
	if clock == nil {
		clock = RealClock{}
	}
	if interval <= 0 {
		interval = time.Second
	}

	start := clock.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		done, err := cond(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if clock.Now().Sub(start) >= timeout {
			return ErrTimeout
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(interval):
		}
	}
}

// =============================================================================
// Fake Clock
// =============================================================================

// FakeClock advances instantly whenever After is called and records every
// wait it was asked for.
type FakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

// NewFakeClock returns a FakeClock starting at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the fake current time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After advances the clock by d and returns an already-fired channel.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.waits = append(c.waits, d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

// Advance moves the clock forward without recording a wait.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Waits returns every duration passed to After.
func (c *FakeClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.waits))
	copy(out, c.waits)
	return out
}

// Elapsed returns the total time waited.
func (c *FakeClock) Elapsed() time.Duration {
	var total time.Duration
	for _, w := range c.Waits() {
		total += w
	}
	return total
}

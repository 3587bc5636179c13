package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/roach88/fieldsync/internal/clock"
)

// Epoch is the default start time of a FakeClock.
var Epoch = time.Date(2026, time.January, 2, 9, 0, 0, 0, time.UTC)

// FakeClock is a manually advanced clock.Clock for tests.
//
// Timers fire only from Advance/AdvanceTo/AdvanceWith, on the caller's
// goroutine, in (deadline, creation) order. Time never moves on its own, so
// the same scenario always produces the same timer sequence.
//
// Thread-safety: all methods are safe for concurrent use. Callbacks run
// without the clock lock held and may arm new timers.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	nextID int64
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *FakeClock
	id      int64
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

// Stop implements clock.Timer.
func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	t.c.removeLocked(t)
	return true
}

// NewFakeClock creates a clock reading start. A zero start means Epoch.
func NewFakeClock(start time.Time) *FakeClock {
	if start.IsZero() {
		start = Epoch
	}
	return &FakeClock{now: start}
}

// Now implements clock.Clock.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc implements clock.Clock. A non-positive d fires on the next
// Advance, even Advance(0).
func (c *FakeClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d < 0 {
		d = 0
	}
	c.nextID++
	t := &fakeTimer{c: c, id: c.nextID, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward by d, firing due timers.
func (c *FakeClock) Advance(d time.Duration) {
	c.AdvanceWith(d, nil)
}

// AdvanceTo moves time forward to t, firing due timers.
func (c *FakeClock) AdvanceTo(t time.Time) {
	c.AdvanceWith(t.Sub(c.Now()), nil)
}

// AdvanceWith moves time forward by d, firing due timers one at a time.
// settle runs after each callback so that work the callback handed to
// another goroutine (and any timers that work arms) is complete before the
// next due timer is considered.
func (c *FakeClock) AdvanceWith(d time.Duration, settle func()) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		t := c.nextDueLocked(target)
		if t == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		if t.at.After(c.now) {
			c.now = t.at
		}
		t.fired = true
		c.removeLocked(t)
		c.mu.Unlock()

		t.f()
		if settle != nil {
			settle()
		}
	}
}

// Pending returns the number of armed timers.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// NextAt returns the deadline of the earliest armed timer.
func (c *FakeClock) NextAt() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sortLocked()
	if len(c.timers) == 0 {
		return time.Time{}, false
	}
	return c.timers[0].at, true
}

func (c *FakeClock) nextDueLocked(target time.Time) *fakeTimer {
	c.sortLocked()
	if len(c.timers) == 0 || c.timers[0].at.After(target) {
		return nil
	}
	return c.timers[0]
}

func (c *FakeClock) sortLocked() {
	sort.SliceStable(c.timers, func(i, j int) bool {
		a, b := c.timers[i], c.timers[j]
		if !a.at.Equal(b.at) {
			return a.at.Before(b.at)
		}
		return a.id < b.id
	})
}

func (c *FakeClock) removeLocked(t *fakeTimer) {
	for i, x := range c.timers {
		if x == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return
		}
	}
}

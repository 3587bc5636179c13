package retry

import (
	"sync"
	"time"

	"github.com/roach88/fieldsync/internal/clock"
	"github.com/roach88/fieldsync/internal/field"
)

// FireFunc receives retry timer expiries. It runs on the clock's goroutine
// and must only hand the (key, token) pair to the owner's event loop.
type FireFunc func(key field.Key, token int64)

type wait struct {
	token   int64
	timer   clock.Timer
	at      time.Time
	attempt int
}

// Controller tracks retry timers and phases per field.
//
// Thread-safety: all methods are safe for concurrent use. Timer callbacks
// never take the controller lock while calling fire.
type Controller struct {
	policy Policy
	clock  clock.Clock
	seq    *clock.Sequence
	fire   FireFunc

	mu      sync.Mutex
	waits   map[field.Key]*wait
	phases  map[field.Key]Phase
	stopped bool
}

// NewController creates a controller that reports timer expiries to fire.
func NewController(p Policy, clk clock.Clock, seq *clock.Sequence, fire FireFunc) *Controller {
	if seq == nil {
		seq = clock.NewSequence()
	}
	return &Controller{
		policy: p,
		clock:  clk,
		seq:    seq,
		fire:   fire,
		waits:  make(map[field.Key]*wait),
		phases: make(map[field.Key]Phase),
	}
}

// Policy returns the controller's policy.
func (c *Controller) Policy() Policy {
	return c.policy
}

// Schedule arms the retry timer for key after failure number attempt,
// replacing any earlier timer. It returns the delay and the timer token.
// After Stop it arms nothing and returns a zero token.
func (c *Controller) Schedule(key field.Key, attempt int) (time.Duration, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return 0, 0
	}
	c.cancelLocked(key)

	delay := c.policy.Delay(attempt)
	token := c.seq.Next()
	w := &wait{token: token, at: c.clock.Now().Add(delay), attempt: attempt}
	fire := c.fire
	w.timer = c.clock.AfterFunc(delay, func() {
		fire(key, token)
	})
	c.waits[key] = w
	c.phases[key] = PhaseRetryWait
	return delay, token
}

// Fired claims the expiry of the timer identified by token. It returns
// false when the timer was cancelled or replaced in the meantime.
func (c *Controller) Fired(key field.Key, token int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.waits[key]
	if !ok || w.token != token {
		return false
	}
	delete(c.waits, key)
	return true
}

// Cancel stops the retry timer for key. It reports whether one was armed.
func (c *Controller) Cancel(key field.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelLocked(key)
}

func (c *Controller) cancelLocked(key field.Key) bool {
	w, ok := c.waits[key]
	if !ok {
		return false
	}
	w.timer.Stop()
	delete(c.waits, key)
	return true
}

// NextRetryAt returns when the armed retry for key is due.
func (c *Controller) NextRetryAt(key field.Key) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.waits[key]
	if !ok {
		return time.Time{}, false
	}
	return w.at, true
}

// SetPhase records key's phase. Moving out of retry-wait cancels the timer.
func (c *Controller) SetPhase(key field.Key, p Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p != PhaseRetryWait {
		c.cancelLocked(key)
	}
	c.phases[key] = p
}

// Phase returns key's phase, PhaseIdle if unknown.
func (c *Controller) Phase(key field.Key) Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phases[key]
}

// Pending returns the number of armed retry timers.
func (c *Controller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waits)
}

// Reset cancels every timer and forgets all phases.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.waits {
		c.cancelLocked(key)
	}
	c.phases = make(map[field.Key]Phase)
}

// Stop cancels every timer and refuses further scheduling.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.waits {
		c.cancelLocked(key)
	}
	c.stopped = true
}

package schedule

import (
	"sync"
	"time"

	"github.com/roach88/fieldsync/internal/clock"
	"github.com/roach88/fieldsync/internal/field"
)

// DefaultWindow is the debounce quiet period.
const DefaultWindow = time.Second

// FireFunc receives debounce expiries on the clock's goroutine.
type FireFunc func(key field.Key, token int64)

type entry struct {
	// timer and token describe the armed debounce timer, if any.
	timer clock.Timer
	token int64

	lastEdit time.Time
	edited   bool

	inFlight   bool
	generation int64
	followUp   bool
}

// Scheduler debounces edits and serialises writes per field.
//
// Thread-safety: all methods are safe for concurrent use. Callbacks are
// invoked without the scheduler lock held.
type Scheduler struct {
	clock  clock.Clock
	window time.Duration
	seq    *clock.Sequence
	fire   FireFunc

	mu      sync.Mutex
	entries map[field.Key]*entry
	stopped bool

	sweepEvery time.Duration
	sweepFn    func()
	sweepTimer clock.Timer
}

// New creates a scheduler with the given debounce window.
func New(clk clock.Clock, window time.Duration, seq *clock.Sequence, fire FireFunc) *Scheduler {
	if window <= 0 {
		window = DefaultWindow
	}
	if seq == nil {
		seq = clock.NewSequence()
	}
	return &Scheduler{
		clock:   clk,
		window:  window,
		seq:     seq,
		fire:    fire,
		entries: make(map[field.Key]*entry),
	}
}

// Window returns the debounce window.
func (s *Scheduler) Window() time.Duration {
	return s.window
}

func (s *Scheduler) entryLocked(key field.Key) *entry {
	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	return e
}

// Touch records an edit and (re)starts key's debounce timer. It returns the
// new timer token, or 0 after Stop.
func (s *Scheduler) Touch(key field.Key) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return 0
	}

	e := s.entryLocked(key)
	if e.timer != nil {
		e.timer.Stop()
	}
	e.lastEdit = s.clock.Now()
	e.edited = true
	e.token = s.seq.Next()

	token, fire := e.token, s.fire
	e.timer = s.clock.AfterFunc(s.window, func() {
		fire(key, token)
	})
	return token
}

// Cancel stops key's debounce timer. It reports whether one was armed.
func (s *Scheduler) Cancel(key field.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || e.timer == nil {
		return false
	}
	e.timer.Stop()
	e.timer = nil
	e.token = 0
	return true
}

// Fired claims a debounce expiry. It returns false when the timer was
// restarted or cancelled after the callback was queued.
func (s *Scheduler) Fired(key field.Key, token int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || e.timer == nil || e.token != token {
		return false
	}
	e.timer = nil
	e.token = 0
	return true
}

// Elapsed reports whether key's debounce window has passed at now.
func (s *Scheduler) Elapsed(key field.Key, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || !e.edited {
		return false
	}
	return !now.Before(e.lastEdit.Add(s.window))
}

// Begin marks a write for generation gen as in flight. It returns false if
// one is already outstanding; the caller should MarkFollowUp instead.
func (s *Scheduler) Begin(key field.Key, gen int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entryLocked(key)
	if e.inFlight {
		return false
	}
	e.inFlight = true
	e.generation = gen
	e.followUp = false
	return true
}

// InFlight returns the generation of the outstanding write for key.
func (s *Scheduler) InFlight(key field.Key) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || !e.inFlight {
		return 0, false
	}
	return e.generation, true
}

// MarkFollowUp records that key changed while its write was outstanding.
// Repeated calls collapse into one successor. It reports whether a write
// was in flight.
func (s *Scheduler) MarkFollowUp(key field.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || !e.inFlight {
		return false
	}
	e.followUp = true
	return true
}

// End clears key's in-flight marker and reports whether a follow-up write
// was requested while it was outstanding.
func (s *Scheduler) End(key field.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || !e.inFlight {
		return false
	}
	followUp := e.followUp
	e.inFlight = false
	e.generation = 0
	e.followUp = false
	return followUp
}

// StartSweep arms the fallback sweep. fn runs on the clock's goroutine
// every interval until Stop. A non-positive interval disables the sweep.
func (s *Scheduler) StartSweep(interval time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || interval <= 0 {
		return
	}
	if s.sweepTimer != nil {
		s.sweepTimer.Stop()
	}
	s.sweepEvery = interval
	s.sweepFn = fn
	s.armSweepLocked()
}

func (s *Scheduler) armSweepLocked() {
	s.sweepTimer = s.clock.AfterFunc(s.sweepEvery, s.sweep)
}

func (s *Scheduler) sweep() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	fn := s.sweepFn
	s.armSweepLocked()
	s.mu.Unlock()

	fn()
}

// Reset cancels every debounce timer and forgets all keys. The sweep keeps
// running. A write still outstanding keeps its in-flight marker, without
// any follow-up, so no second write for the key starts until the owner
// calls End.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		if !e.inFlight {
			delete(s.entries, key)
			continue
		}
		*e = entry{inFlight: true, generation: e.generation}
	}
}

// Stop cancels every timer, including the sweep, and refuses new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
	}
	if s.sweepTimer != nil {
		s.sweepTimer.Stop()
		s.sweepTimer = nil
	}
	s.stopped = true
}

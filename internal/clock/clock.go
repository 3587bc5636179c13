package clock

import "time"

// Timer is a cancellable one-shot timer.
//
// Stop reports whether the call prevented the timer from firing, matching
// the contract of time.Timer.Stop.
type Timer interface {
	Stop() bool
}

// Clock is the source of wall time and timers.
//
// AfterFunc callbacks run on a goroutine owned by the Clock implementation.
// Callers must treat them like any other cross-goroutine signal and hand the
// work over to their own event loop rather than mutating shared state.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Real is the production Clock backed by the time package.
type Real struct{}

// Now returns the current wall time.
func (Real) Now() time.Time {
	return time.Now()
}

// AfterFunc arms a runtime timer.
func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

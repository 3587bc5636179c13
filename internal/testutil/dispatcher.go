package testutil

import (
	"sync"

	"github.com/roach88/fieldsync/internal/save"
)

// Job is a write held by a ManualDispatcher.
type Job struct {
	Request save.Request
	run     func()
}

// ManualDispatcher holds dispatched writes until the test releases them,
// which makes the arrival order of concurrent responses a test input.
//
// It satisfies the autosave dispatcher contract structurally.
//
// Thread-safety: all methods are safe for concurrent use. Released jobs run
// on the caller's goroutine without the lock held.
type ManualDispatcher struct {
	mu   sync.Mutex
	jobs []Job
	all  []save.Request
}

// NewManualDispatcher creates an empty dispatcher.
func NewManualDispatcher() *ManualDispatcher {
	return &ManualDispatcher{}
}

// Dispatch records the write without running it.
func (d *ManualDispatcher) Dispatch(req save.Request, run func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, Job{Request: req, run: run})
	d.all = append(d.all, req)
}

// Pending returns the held writes, oldest first.
func (d *ManualDispatcher) Pending() []save.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]save.Request, len(d.jobs))
	for i, j := range d.jobs {
		out[i] = j.Request
	}
	return out
}

// Len returns the number of held writes.
func (d *ManualDispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs)
}

// Dispatched returns every write ever dispatched, in order.
func (d *ManualDispatcher) Dispatched() []save.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]save.Request(nil), d.all...)
}

// Release runs the oldest held write for fieldName. It reports whether one
// was held.
func (d *ManualDispatcher) Release(fieldName string) bool {
	return d.release(func(jobs []Job) int {
		for i, j := range jobs {
			if j.Request.Key.Field == fieldName {
				return i
			}
		}
		return -1
	})
}

// ReleaseNewest runs the most recent held write for fieldName.
func (d *ManualDispatcher) ReleaseNewest(fieldName string) bool {
	return d.release(func(jobs []Job) int {
		for i := len(jobs) - 1; i >= 0; i-- {
			if jobs[i].Request.Key.Field == fieldName {
				return i
			}
		}
		return -1
	})
}

// ReleaseAll runs every write held at the time of the call, oldest first,
// and returns how many ran.
func (d *ManualDispatcher) ReleaseAll() int {
	d.mu.Lock()
	jobs := d.jobs
	d.jobs = nil
	d.mu.Unlock()

	for _, j := range jobs {
		j.run()
	}
	return len(jobs)
}

func (d *ManualDispatcher) release(pick func([]Job) int) bool {
	d.mu.Lock()
	i := pick(d.jobs)
	if i < 0 {
		d.mu.Unlock()
		return false
	}
	j := d.jobs[i]
	d.jobs = append(d.jobs[:i], d.jobs[i+1:]...)
	d.mu.Unlock()

	j.run()
	return true
}

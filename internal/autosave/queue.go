package autosave

import (
	"sync"

	"github.com/roach88/fieldsync/internal/field"
	"github.com/roach88/fieldsync/internal/save"
	"github.com/roach88/fieldsync/internal/status"
)

// eventType distinguishes loop events.
type eventType int

const (
	eventEdit eventType = iota + 1
	eventDebounce
	eventRetry
	eventSweep
	eventOutcome
	eventSaveNow
	eventForceSave
	eventDismiss
	eventLoad
	eventReload
	eventSubscribe
	eventBarrier
)

var eventNames = map[eventType]string{
	eventEdit:      "edit",
	eventDebounce:  "debounce",
	eventRetry:     "retry",
	eventSweep:     "sweep",
	eventOutcome:   "outcome",
	eventSaveNow:   "save-now",
	eventForceSave: "force-save",
	eventDismiss:   "dismiss",
	eventLoad:      "load",
	eventReload:    "reload",
	eventSubscribe: "subscribe",
	eventBarrier:   "barrier",
}

func (t eventType) String() string {
	if n, ok := eventNames[t]; ok {
		return n
	}
	return "unknown"
}

// event is one unit of loop work. Only the fields relevant to typ are set.
type event struct {
	typ eventType

	key   field.Key
	keys  []field.Key
	value any
	token int64

	// epoch is the load epoch an outcome was issued in.
	epoch   uint64
	outcome save.Outcome

	fields map[string]any

	fieldFn  status.FieldFunc
	recordFn status.RecordFunc

	// done is closed once the event has been handled or discarded.
	done chan struct{}
}

// release wakes a caller waiting on the event.
func (e event) release() {
	if e.done != nil {
		close(e.done)
	}
}

// eventQueue is an unbounded FIFO feeding the session loop.
//
// Timer callbacks and write completions enqueue from arbitrary goroutines;
// only the loop dequeues. The signal channel (buffer 1) coalesces wakeups
// and is closed on Close so a waiting loop notices shutdown.
type eventQueue struct {
	mu     sync.Mutex
	events []event
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]event, 0, 32),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends e. It returns false once the queue is closed.
func (q *eventQueue) Enqueue(e event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front event without blocking.
func (q *eventQueue) TryDequeue() (event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return event{}, false
	}
	e := q.events[0]
	// Drop the slot's references so outcome values can be collected.
	q.events[0] = event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns the wakeup channel.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued events.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Closed reports whether Close was called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close refuses further events and wakes the loop.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Drain removes and returns every queued event.
func (q *eventQueue) Drain() []event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = nil
	return out
}

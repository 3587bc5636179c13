package status

import (
	"sync"

	"github.com/roach88/fieldsync/internal/field"
)

// FieldFunc receives field updates.
type FieldFunc func(FieldUpdate)

// RecordFunc receives record updates.
type RecordFunc func(RecordUpdate)

type fieldSub struct {
	id int64
	fn FieldFunc
}

type recordSub struct {
	id int64
	fn RecordFunc
}

// Broadcaster is the Status Broadcaster.
//
// Thread-safety: subscribe and unsubscribe are safe from any goroutine.
// Publish is expected from a single goroutine (the session loop);
// subscribers run on it without the broadcaster lock held, so they may
// unsubscribe from inside a callback.
type Broadcaster struct {
	mu         sync.Mutex
	nextID     int64
	fieldSubs  map[field.Key][]fieldSub
	recordSubs []recordSub
	lastGen    map[field.Key]int64
	lastRecord *RecordUpdate
	closed     bool
}

// NewBroadcaster creates a broadcaster with no subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		fieldSubs: make(map[field.Key][]fieldSub),
		lastGen:   make(map[field.Key]int64),
	}
}

// OnFieldStatus subscribes fn to key. The returned function unsubscribes;
// calling it more than once is harmless.
func (b *Broadcaster) OnFieldStatus(key field.Key, fn FieldFunc) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	b.nextID++
	id := b.nextID
	b.fieldSubs[key] = append(b.fieldSubs[key], fieldSub{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.fieldSubs[key]
		for i, s := range subs {
			if s.id == id {
				b.fieldSubs[key] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(b.fieldSubs[key]) == 0 {
			delete(b.fieldSubs, key)
		}
	}
}

// OnRecordStatus subscribes fn to the aggregate status.
func (b *Broadcaster) OnRecordStatus(fn RecordFunc) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	b.nextID++
	id := b.nextID
	b.recordSubs = append(b.recordSubs, recordSub{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.recordSubs {
			if s.id == id {
				b.recordSubs = append(b.recordSubs[:i:i], b.recordSubs[i+1:]...)
				return
			}
		}
	}
}

// PublishField delivers u to key's subscribers. Updates older than the last
// delivered generation for the key are dropped; it reports whether u was
// delivered.
func (b *Broadcaster) PublishField(u FieldUpdate) bool {
	b.mu.Lock()
	if b.closed || u.Generation < b.lastGen[u.Key] {
		b.mu.Unlock()
		return false
	}
	b.lastGen[u.Key] = u.Generation
	subs := append([]fieldSub(nil), b.fieldSubs[u.Key]...)
	b.mu.Unlock()

	for _, s := range subs {
		s.fn(u)
	}
	return true
}

// PublishRecord delivers u to record subscribers unless it equals the last
// delivered record update.
func (b *Broadcaster) PublishRecord(u RecordUpdate) bool {
	b.mu.Lock()
	if b.closed || (b.lastRecord != nil && sameRecord(*b.lastRecord, u)) {
		b.mu.Unlock()
		return false
	}
	last := u
	b.lastRecord = &last
	subs := append([]recordSub(nil), b.recordSubs...)
	b.mu.Unlock()

	for _, s := range subs {
		s.fn(u)
	}
	return true
}

// DeliverField hands u to a single new subscriber, applying the same
// generation filter as PublishField. Sessions use it for the initial
// status so it can never regress what fn already saw.
func (b *Broadcaster) DeliverField(fn FieldFunc, u FieldUpdate) bool {
	b.mu.Lock()
	if b.closed || u.Generation < b.lastGen[u.Key] {
		b.mu.Unlock()
		return false
	}
	b.lastGen[u.Key] = u.Generation
	b.mu.Unlock()

	fn(u)
	return true
}

// DeliverRecord hands u to a single new record subscriber.
func (b *Broadcaster) DeliverRecord(fn RecordFunc, u RecordUpdate) bool {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return false
	}
	fn(u)
	return true
}

// Subscribers returns the number of subscribers for key plus record
// subscribers.
func (b *Broadcaster) Subscribers(key field.Key) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.fieldSubs[key]) + len(b.recordSubs)
}

// Reset forgets delivered generations. Used when a record reload restarts
// generations from zero. Subscriptions are kept.
func (b *Broadcaster) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastGen = make(map[field.Key]int64)
	b.lastRecord = nil
}

// Close drops every subscriber. Later publishes are ignored.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.fieldSubs = make(map[field.Key][]fieldSub)
	b.recordSubs = nil
}

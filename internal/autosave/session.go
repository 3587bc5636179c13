package autosave

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/roach88/fieldsync/internal/clock"
	"github.com/roach88/fieldsync/internal/debug"
	"github.com/roach88/fieldsync/internal/field"
	"github.com/roach88/fieldsync/internal/persist"
	"github.com/roach88/fieldsync/internal/retry"
	"github.com/roach88/fieldsync/internal/schedule"
	"github.com/roach88/fieldsync/internal/status"
)

// Session binds the autosave engine to one open record.
type Session struct {
	id       string
	recordID string
	opts     options
	log      zerolog.Logger

	clock  clock.Clock
	store  *field.Store
	sched  *schedule.Scheduler
	retry  *retry.Controller
	bcast  *status.Broadcaster
	client *persist.Client
	debug  *debug.Registry

	queue  *eventQueue
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// epoch changes on Reload; outcomes issued before it are discarded.
	// Loop goroutine only.
	epoch uint64

	disposed    atomic.Bool
	disposeOnce sync.Once
}

// Open starts a session for recordID writing through backend.
//
// ctx bounds the session: cancelling it stops the loop like Dispose does,
// but callers must still call Dispose to wait for shutdown.
func Open(ctx context.Context, recordID string, backend persist.Backend, opts ...Option) (*Session, error) {
	if recordID == "" {
		return nil, errors.WithDetails(ErrInvalidSession, "reason", "empty record id")
	}
	if backend == nil {
		return nil, errors.WithDetails(ErrInvalidSession, "reason", "nil backend")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.policy.Validate(); err != nil {
		return nil, errors.Errorf("retry policy: %w", err)
	}
	if o.debug == nil {
		o.debug = debug.NewRegistry(debug.DefaultSize)
	}

	s := &Session{
		id:       o.ids.Generate(),
		recordID: recordID,
		opts:     o,
		clock:    o.clock,
		bcast:    status.NewBroadcaster(),
		debug:    o.debug,
		queue:    newEventQueue(),
		done:     make(chan struct{}),
	}
	s.log = o.log.With().Str("session", s.id).Str("record", recordID).Logger()
	s.ctx, s.cancel = context.WithCancel(s.log.WithContext(ctx))

	seq := clock.NewSequence()
	s.store = field.NewStore(field.WithNow(o.clock.Now), field.WithNotifier(s.notify))
	s.sched = schedule.New(o.clock, o.debounce, seq, func(key field.Key, token int64) {
		s.queue.Enqueue(event{typ: eventDebounce, key: key, token: token})
	})
	s.retry = retry.NewController(o.policy, o.clock, seq, func(key field.Key, token int64) {
		s.queue.Enqueue(event{typ: eventRetry, key: key, token: token})
	})
	s.client = persist.NewClient(backend,
		persist.WithTimeout(o.requestTimeout),
		persist.WithClock(o.clock),
		persist.WithLogger(s.log),
	)

	s.sched.StartSweep(o.sweepInterval, func() {
		s.queue.Enqueue(event{typ: eventSweep})
	})

	go s.run()

	s.log.Debug().
		Dur("debounce", s.sched.Window()).
		Int("max_retries", o.policy.MaxRetries).
		Msg("session opened")
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// RecordID returns the record this session edits.
func (s *Session) RecordID() string {
	return s.recordID
}

// Debug returns the session's debug registry.
func (s *Session) Debug() *debug.Registry {
	return s.debug
}

// Policy returns the retry policy in effect.
func (s *Session) Policy() retry.Policy {
	return s.opts.policy
}

func (s *Session) key(name string) field.Key {
	return field.NewKey(s.recordID, name)
}

func (s *Session) enqueue(e event) error {
	if s.disposed.Load() || !s.queue.Enqueue(e) {
		return ErrDisposed
	}
	return nil
}

// call enqueues e and waits until the loop has handled it.
func (s *Session) call(ctx context.Context, e event) error {
	e.done = make(chan struct{})
	if err := s.enqueue(e); err != nil {
		return err
	}
	select {
	case <-e.done:
		if s.disposed.Load() {
			return ErrDisposed
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Edit records a new value for a field. The write happens after the
// debounce window. Backend failures are never reported here; Edit only
// fails after Dispose.
func (s *Session) Edit(name string, value any) error {
	return s.enqueue(event{typ: eventEdit, key: s.key(name), value: value})
}

// SaveNow cancels the debounce timer of the named fields (all fields when
// none are named) and writes their pending values immediately. Fields
// whose chain is terminal are left for ForceSave.
func (s *Session) SaveNow(names ...string) error {
	keys := make([]field.Key, len(names))
	for i, n := range names {
		keys[i] = s.key(n)
	}
	return s.enqueue(event{typ: eventSaveNow, keys: keys})
}

// ForceSave re-issues the write of every field in error or scheduled
// status, bypassing backoff and terminal state, with the retry counter
// reset.
func (s *Session) ForceSave() error {
	return s.enqueue(event{typ: eventForceSave})
}

// Dismiss clears a field's last error, e.g. when the user closes the
// failure notification. The pending value is kept.
func (s *Session) Dismiss(name string) error {
	return s.enqueue(event{typ: eventDismiss, key: s.key(name)})
}

// Load reads the record and seeds confirmed values. Fields with an
// outstanding edit keep it.
func (s *Session) Load(ctx context.Context) error {
	if s.disposed.Load() {
		return ErrDisposed
	}
	fields, err := s.client.Load(ctx, s.recordID)
	if err != nil {
		return errors.Errorf("load record %s: %w", s.recordID, err)
	}
	return s.call(ctx, event{typ: eventLoad, fields: fields})
}

// Reload discards every field state, pending edits included, and seeds it
// again from the backend. Generations restart and outcomes of writes
// still in flight are discarded on arrival; until then their fields accept
// edits but write nothing new.
func (s *Session) Reload(ctx context.Context) error {
	if s.disposed.Load() {
		return ErrDisposed
	}
	fields, err := s.client.Load(ctx, s.recordID)
	if err != nil {
		return errors.Errorf("reload record %s: %w", s.recordID, err)
	}
	return s.call(ctx, event{typ: eventReload, fields: fields})
}

// Flush waits until every event enqueued before the call has been handled.
// Writes that were dispatched are not waited for.
func (s *Session) Flush(ctx context.Context) error {
	return s.call(ctx, event{typ: eventBarrier})
}

// OnFieldStatus subscribes fn to a field. The field is created if needed
// and fn receives its current status first, unless a newer generation
// already reached it.
func (s *Session) OnFieldStatus(name string, fn status.FieldFunc) (func(), error) {
	key := s.key(name)
	unsub := s.bcast.OnFieldStatus(key, fn)
	if err := s.enqueue(event{typ: eventSubscribe, key: key, fieldFn: fn}); err != nil {
		unsub()
		return func() {}, err
	}
	return unsub, nil
}

// OnRecordStatus subscribes fn to the record's aggregate status. fn
// receives the current aggregate first.
func (s *Session) OnRecordStatus(fn status.RecordFunc) (func(), error) {
	unsub := s.bcast.OnRecordStatus(fn)
	if err := s.enqueue(event{typ: eventSubscribe, recordFn: fn}); err != nil {
		unsub()
		return func() {}, err
	}
	return unsub, nil
}

// State returns a copy of one field's state.
func (s *Session) State(name string) (field.State, bool) {
	return s.store.Get(s.key(name))
}

// Fields returns copies of every field state in creation order.
func (s *Session) Fields() []field.State {
	return s.store.Snapshot()
}

// RecordStatus returns the aggregate status.
func (s *Session) RecordStatus() status.RecordUpdate {
	return status.Aggregate(s.recordID, s.store.Snapshot())
}

// Settled reports whether nothing is scheduled, saving, or waiting to
// retry.
func (s *Session) Settled() bool {
	return s.RecordStatus().Pending == 0 && s.retry.Pending() == 0
}

// Snapshot exports the session for diagnostics. It does not mutate state.
func (s *Session) Snapshot() debug.Snapshot {
	fields := s.store.Snapshot()
	return debug.Snapshot{
		SessionID: s.id,
		RecordID:  s.recordID,
		TakenAt:   s.clock.Now(),
		Record:    status.Aggregate(s.recordID, fields),
		Fields:    fields,
		Outcomes:  s.debug.Outcomes(),
	}
}

// Disposed reports whether Dispose was called.
func (s *Session) Disposed() bool {
	return s.disposed.Load()
}

// Dispose ends the session: timers are cancelled, subscribers are dropped
// and outcomes of writes still in flight are discarded on arrival. Field
// state is left as it was. Dispose is idempotent and returns once the
// event loop has exited. It must not be called from a subscriber.
func (s *Session) Dispose() {
	s.disposeOnce.Do(func() {
		s.disposed.Store(true)
		s.cancel()
		<-s.done
	})
}

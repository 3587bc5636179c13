package field

import (
	"sort"
	"sync"
	"time"

	"gitlab.com/tozd/go/errors"
)

var (
	// ErrUnknownField is returned when a save is started for a field the
	// store has never seen.
	ErrUnknownField = errors.Base("unknown field")

	// ErrSaveInFlight is returned by BeginSave when a write is already
	// outstanding for the field.
	ErrSaveInFlight = errors.Base("save already in flight")

	// ErrNothingPending is returned by BeginSave when the field has no
	// outstanding edit.
	ErrNothingPending = errors.Base("nothing pending")
)

// Notifier receives a copy of a field's state after every mutation.
// It is called synchronously, outside the store lock, in mutation order.
type Notifier func(State)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithNow sets the time source used for LastSavedAt.
func WithNow(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// WithNotifier sets the mutation callback.
func WithNotifier(n Notifier) StoreOption {
	return func(s *Store) {
		s.notify = n
	}
}

// Store is the FieldState Store for one record session.
type Store struct {
	mu     sync.RWMutex
	fields map[Key]*State
	order  []Key // creation order, for deterministic snapshots

	now    func() time.Time
	notify Notifier
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		fields: make(map[Key]*State),
		now:    time.Now,
		notify: func(State) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lookup returns the state for key, creating it lazily. Caller holds mu.
func (s *Store) lookup(key Key) *State {
	st, ok := s.fields[key]
	if !ok {
		st = &State{Key: key}
		s.fields[key] = st
		s.order = append(s.order, key)
	}
	return st
}

// Ensure creates the state for key if it does not exist yet and returns it.
// Creation is not a status change and does not notify.
func (s *Store) Ensure(key Key) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.lookup(key)
}

// Get returns a copy of the state for key.
func (s *Store) Get(key Key) (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.fields[key]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// Snapshot returns copies of all states in creation order.
func (s *Store) Snapshot() []State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]State, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, *s.fields[k])
	}
	return out
}

// Len returns the number of tracked fields.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.fields)
}

// mutate applies fn under the lock and, if fn reports a change, notifies
// with the resulting state after the lock is released.
func (s *Store) mutate(key Key, create bool, fn func(st *State) bool) (State, bool) {
	s.mu.Lock()
	st, ok := s.fields[key]
	if !ok {
		if !create {
			s.mu.Unlock()
			return State{}, false
		}
		st = s.lookup(key)
	}
	changed := fn(st)
	snapshot := *st
	s.mu.Unlock()

	if changed {
		s.notify(snapshot)
	}
	return snapshot, changed
}

// Edit records a local edit: the value becomes pending, the generation is
// incremented, the status becomes scheduled and the retry counter resets.
// It returns the new generation.
func (s *Store) Edit(key Key, value any) int64 {
	st, _ := s.mutate(key, true, func(st *State) bool {
		st.Pending = value
		st.HasPending = true
		st.Generation++
		st.Status = StatusScheduled
		st.Attempt = 0
		st.Terminal = false
		return true
	})
	return st.Generation
}

// BeginSave marks gen as in flight. At most one save may be in flight per
// field; the scheduler enforces this and BeginSave double-checks it.
func (s *Store) BeginSave(key Key, gen int64) error {
	var err error = errors.WithDetails(ErrUnknownField, "field", key.String())
	s.mutate(key, false, func(st *State) bool {
		switch {
		case st.InFlight != 0:
			err = errors.WithDetails(ErrSaveInFlight, "field", key.String(), "in_flight", st.InFlight)
			return false
		case !st.HasPending:
			err = errors.WithDetails(ErrNothingPending, "field", key.String())
			return false
		}
		err = nil
		st.Status = StatusSaving
		st.InFlight = gen
		st.Diverged = true
		return true
	})
	return err
}

// Confirm applies a successful save of value for gen.
//
// The in-flight marker is always released. The confirmation itself is
// dropped (returns false, no notification) when gen is stale.
func (s *Store) Confirm(key Key, gen int64, value any) bool {
	_, applied := s.mutate(key, false, func(st *State) bool {
		if st.InFlight == gen {
			st.InFlight = 0
		}
		if !st.IsCurrent(gen) {
			return false
		}
		st.Confirmed = value
		st.HasConfirmed = true
		st.Diverged = false
		st.Pending = nil
		st.HasPending = false
		st.Status = StatusSaved
		st.Attempt = 0
		st.Terminal = false
		st.LastError = nil
		st.LastSavedAt = s.now()
		return true
	})
	return applied
}

// Fail records a failed save for gen. The attempt counter is incremented
// and Terminal records whether automatic retries stopped. Pending is left
// untouched so the same value can be re-sent.
//
// Stale failures are dropped (returns false, no notification).
func (s *Store) Fail(key Key, gen int64, err error, terminal bool) bool {
	_, applied := s.mutate(key, false, func(st *State) bool {
		if st.InFlight == gen {
			st.InFlight = 0
		}
		if !st.IsCurrent(gen) {
			return false
		}
		st.Status = StatusError
		st.LastError = err
		st.Attempt++
		st.Terminal = terminal
		return true
	})
	return applied
}

// Restart re-arms a failed or scheduled chain for a forced save: the attempt
// counter resets and the status returns to scheduled. It returns the current
// generation, or false when nothing is pending.
func (s *Store) Restart(key Key) (int64, bool) {
	st, changed := s.mutate(key, false, func(st *State) bool {
		if !st.HasPending || st.InFlight != 0 {
			return false
		}
		st.Attempt = 0
		st.Terminal = false
		st.Status = StatusScheduled
		return true
	})
	return st.Generation, changed
}

// Dismiss clears the last error. A terminally failed field drops back to
// idle; its pending value is kept for a later forced save.
func (s *Store) Dismiss(key Key) bool {
	_, changed := s.mutate(key, false, func(st *State) bool {
		if st.LastError == nil {
			return false
		}
		st.LastError = nil
		if st.Status == StatusError && st.Terminal {
			st.Status = StatusIdle
		}
		return true
	})
	return changed
}

// Diverge records that a write the store no longer tracks may have changed
// the backend value, so the next write of key is never skipped. It does not
// notify; the status is unchanged. Unknown keys are ignored.
func (s *Store) Diverge(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.fields[key]; ok {
		st.Diverged = true
	}
}

// Load seeds confirmed values from a record read. Fields with an
// outstanding edit keep their pending value and status; only the confirmed
// value is refreshed. Generations are not touched.
func (s *Store) Load(recordID string, values map[string]any) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v := values[name]
		s.mutate(NewKey(recordID, name), true, func(st *State) bool {
			st.Confirmed = v
			st.HasConfirmed = true
			if !st.HasPending && st.InFlight == 0 {
				st.Status = StatusIdle
			}
			return true
		})
	}
}

// Reset discards every field. Used when the record is reloaded or changes
// identity; generations start over from 0 afterwards.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields = make(map[Key]*State)
	s.order = nil
}

package autosave

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"

	"github.com/roach88/fieldsync/internal/debug"
	"github.com/roach88/fieldsync/internal/field"
	"github.com/roach88/fieldsync/internal/retry"
	"github.com/roach88/fieldsync/internal/save"
	"github.com/roach88/fieldsync/internal/status"
	"github.com/roach88/fieldsync/internal/testutil"
)

const record = "activity-1"

var (
	errTimeout    = save.NewError(save.CategoryTimeout, "request timed out")
	errValidation = save.FromStatus(422, "code must be upper case", "validation")
)

// rig drives a session with a fake clock and hand-released writes.
type rig struct {
	t       *testing.T
	clk     *testutil.FakeClock
	disp    *testutil.ManualDispatcher
	backend *testutil.ScriptedBackend
	s       *Session
}

func newRig(t *testing.T, opts ...Option) *rig {
	t.Helper()
	r := &rig{
		t:       t,
		clk:     testutil.NewFakeClock(time.Time{}),
		disp:    testutil.NewManualDispatcher(),
		backend: testutil.NewScriptedBackend(),
	}
	base := []Option{
		WithClock(r.clk),
		WithDispatcher(r.disp),
		WithDebounce(time.Second),
		WithSweepInterval(0),
		WithRequestTimeout(0),
		WithIDGenerator(NewFixedGenerator("session-1")),
	}
	s, err := Open(context.Background(), record, r.backend, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(s.Dispose)
	r.s = s
	return r
}

func (r *rig) flush() {
	r.t.Helper()
	require.NoError(r.t, r.s.Flush(context.Background()))
}

func (r *rig) edit(name string, v any) {
	r.t.Helper()
	require.NoError(r.t, r.s.Edit(name, v))
	r.flush()
}

func (r *rig) advance(d time.Duration) {
	r.t.Helper()
	r.clk.AdvanceWith(d, r.flush)
	r.flush()
}

func (r *rig) release(name string) {
	r.t.Helper()
	require.True(r.t, r.disp.Release(name), "no write held for %s", name)
	r.flush()
}

func (r *rig) state(name string) field.State {
	r.t.Helper()
	st, ok := r.s.State(name)
	require.True(r.t, ok, "no state for %s", name)
	return st
}

// statusLog collects a field's distinct consecutive statuses.
type statusLog struct {
	mu       sync.Mutex
	statuses []field.Status
	updates  []status.FieldUpdate
}

func (l *statusLog) record(u status.FieldUpdate) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates = append(l.updates, u)
	if n := len(l.statuses); n == 0 || l.statuses[n-1] != u.Status {
		l.statuses = append(l.statuses, u.Status)
	}
}

func (l *statusLog) transitions() []field.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]field.Status(nil), l.statuses...)
}

func (l *statusLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.updates)
}

func (r *rig) watch(name string) *statusLog {
	r.t.Helper()
	l := &statusLog{}
	_, err := r.s.OnFieldStatus(name, l.record)
	require.NoError(r.t, err)
	r.flush()
	return l
}

func TestOpen_Validation(t *testing.T) {
	_, err := Open(context.Background(), "", testutil.NewScriptedBackend())
	assert.True(t, errors.Is(err, ErrInvalidSession))

	_, err = Open(context.Background(), record, nil)
	assert.True(t, errors.Is(err, ErrInvalidSession))

	_, err = Open(context.Background(), record, testutil.NewScriptedBackend(),
		WithRetryPolicy(retry.Policy{MaxRetries: 3}))
	assert.Error(t, err)
}

// Three edits within 500ms collapse into one write after a 1s quiet period.
func TestSession_BurstCoalescesIntoOneWrite(t *testing.T) {
	r := newRig(t)
	log := r.watch("title")

	r.edit("title", "W")
	r.advance(200 * time.Millisecond)
	r.edit("title", "Wat")
	r.advance(200 * time.Millisecond)
	r.edit("title", "Water supply")

	r.advance(999 * time.Millisecond)
	assert.Equal(t, 0, r.disp.Len(), "window restarts on every edit")

	r.advance(time.Millisecond)
	pending := r.disp.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "Water supply", pending[0].Value)
	assert.Equal(t, int64(3), pending[0].Generation)
	assert.Equal(t, 1, pending[0].Attempt)

	r.release("title")

	writes := r.backend.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, "Water supply", writes[0].Value)

	st := r.state("title")
	assert.Equal(t, field.StatusSaved, st.Status)
	assert.Equal(t, "Water supply", st.Confirmed)
	assert.False(t, st.HasPending)
	assert.Equal(t, testutil.Epoch.Add(1400*time.Millisecond), st.LastSavedAt)

	assert.Equal(t, []field.Status{
		field.StatusIdle, field.StatusScheduled, field.StatusSaving, field.StatusSaved,
	}, log.transitions())
}

func TestSession_RetryAfterTimeout(t *testing.T) {
	r := newRig(t)
	r.backend.Enqueue("budget", errTimeout)

	r.edit("budget", 1500.0)
	r.advance(time.Second)
	r.release("budget")

	st := r.state("budget")
	assert.Equal(t, field.StatusError, st.Status)
	assert.Equal(t, 1, st.Attempt)
	assert.False(t, st.Terminal)
	assert.Equal(t, retry.PhaseRetryWait, r.s.retry.Phase(st.Key))

	r.advance(499 * time.Millisecond)
	assert.Equal(t, 0, r.disp.Len())
	r.advance(time.Millisecond)
	pending := r.disp.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Attempt)

	r.release("budget")

	st = r.state("budget")
	assert.Equal(t, field.StatusSaved, st.Status)
	assert.Equal(t, 0, st.Attempt)
	assert.Nil(t, st.LastError)
	assert.Len(t, r.backend.WritesFor("budget"), 2)
}

func TestSession_EditDuringWriteQueuesOneFollowUp(t *testing.T) {
	tests := []struct {
		name  string
		first error
	}{
		{"first succeeds", nil},
		{"first fails", save.NewError(save.CategoryServer, "database locked")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t)
			r.backend.Enqueue("code", tt.first)

			r.edit("code", "A")
			r.advance(time.Second)
			require.Equal(t, 1, r.disp.Len())

			r.edit("code", "B")
			r.edit("code", "B")
			r.advance(time.Second)
			assert.Equal(t, 1, r.disp.Len(), "at most one write in flight")
			assert.Equal(t, field.StatusScheduled, r.state("code").Status)

			r.release("code")
			pending := r.disp.Pending()
			require.Len(t, pending, 1, "exactly one follow-up")
			assert.Equal(t, "B", pending[0].Value)

			r.release("code")
			r.advance(time.Minute)

			st := r.state("code")
			assert.Equal(t, "B", st.Confirmed)
			assert.Equal(t, field.StatusSaved, st.Status)
			assert.Len(t, r.backend.WritesFor("code"), 2)
			assert.Equal(t, 0, r.disp.Len())
		})
	}
}

func TestSession_RevertWhileWriteInFlight(t *testing.T) {
	r := newRig(t)
	r.backend.Seed(record, map[string]any{"title": "X"})
	require.NoError(t, r.s.Load(context.Background()))

	r.edit("title", "Y")
	r.advance(time.Second)
	require.Equal(t, 1, r.disp.Len())

	// Back to the loaded value while Y is still being written.
	r.edit("title", "X")
	r.advance(time.Second)
	assert.Equal(t, 1, r.disp.Len())

	r.release("title")
	pending := r.disp.Pending()
	require.Len(t, pending, 1, "Y may have landed, so X must be written again")
	assert.Equal(t, "X", pending[0].Value)

	r.release("title")
	r.advance(time.Minute)

	got, _ := r.backend.Value(record, "title")
	assert.Equal(t, "X", got)
	st := r.state("title")
	assert.Equal(t, field.StatusSaved, st.Status)
	assert.Equal(t, "X", st.Confirmed)
	assert.False(t, st.Diverged)
	assert.Len(t, r.backend.WritesFor("title"), 2)
}

func TestSession_StaleResponseNeverWinsOverNewerEdit(t *testing.T) {
	r := newRig(t)
	log := r.watch("code")

	r.edit("code", "A")
	r.advance(time.Second)
	r.edit("code", "B")

	// A's response lands before B's debounce elapses.
	r.release("code")
	st := r.state("code")
	assert.False(t, st.HasConfirmed)
	assert.Equal(t, "B", st.Pending)
	assert.Equal(t, field.StatusScheduled, st.Status)

	r.advance(time.Second)
	r.release("code")
	assert.Equal(t, "B", r.state("code").Confirmed)

	// Subscribers never went backwards in generation.
	var last int64
	for _, u := range log.updates {
		assert.GreaterOrEqual(t, u.Generation, last)
		last = u.Generation
	}
}

func TestSession_TerminalFailureWaitsForForceSave(t *testing.T) {
	r := newRig(t)
	r.backend.Enqueue("code", errValidation)

	r.edit("code", "B")
	r.advance(time.Second)
	r.release("code")

	st := r.state("code")
	assert.Equal(t, field.StatusError, st.Status)
	assert.True(t, st.Terminal)
	assert.True(t, st.HasPending)
	assert.Equal(t, "B", st.Pending)
	assert.Equal(t, save.CategoryValidation, save.CategoryOf(st.LastError))

	r.advance(time.Hour)
	assert.Equal(t, 0, r.disp.Len(), "no automatic retry")

	require.NoError(t, r.s.ForceSave())
	r.flush()
	pending := r.disp.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "B", pending[0].Value)
	assert.Equal(t, 1, pending[0].Attempt)

	r.release("code")
	assert.Equal(t, field.StatusSaved, r.state("code").Status)
	assert.Len(t, r.backend.WritesFor("code"), 2)
}

func TestSession_RetriesExhaust(t *testing.T) {
	r := newRig(t)
	r.backend.Enqueue("budget", errTimeout, errTimeout, errTimeout)
	key := field.NewKey(record, "budget")

	r.edit("budget", 10.0)
	r.advance(time.Second)

	var delays []time.Duration
	for i := 0; i < 2; i++ {
		r.release("budget")
		at, ok := r.s.retry.NextRetryAt(key)
		require.True(t, ok)
		delays = append(delays, at.Sub(r.clk.Now()))
		r.advance(at.Sub(r.clk.Now()))
	}
	r.release("budget")

	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, delays)

	st := r.state("budget")
	assert.Equal(t, field.StatusError, st.Status)
	assert.True(t, st.Terminal)
	assert.Equal(t, 3, st.Attempt)
	assert.Equal(t, retry.PhaseTerminal, r.s.retry.Phase(key))

	r.advance(time.Hour)
	assert.Equal(t, 0, r.disp.Len())
	assert.Len(t, r.backend.WritesFor("budget"), 3)
}

func TestSession_EditCancelsRetryWait(t *testing.T) {
	r := newRig(t)
	r.backend.Enqueue("budget", errTimeout)

	r.edit("budget", 10.0)
	r.advance(time.Second)
	r.release("budget")
	require.Equal(t, 1, r.s.retry.Pending())

	r.edit("budget", 20.0)
	assert.Equal(t, 0, r.s.retry.Pending())
	st := r.state("budget")
	assert.Equal(t, 0, st.Attempt)
	assert.Equal(t, field.StatusScheduled, st.Status)

	r.advance(500 * time.Millisecond)
	assert.Equal(t, 0, r.disp.Len(), "stale retry did not fire")

	r.advance(500 * time.Millisecond)
	pending := r.disp.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, 20.0, pending[0].Value)
	assert.Equal(t, 1, pending[0].Attempt)
}

func TestSession_SameValueTwiceWritesOnce(t *testing.T) {
	r := newRig(t)

	r.edit("title", "Roads")
	r.advance(time.Second)
	r.release("title")

	r.edit("title", "Roads")
	r.advance(time.Second)

	assert.Equal(t, 0, r.disp.Len())
	assert.Len(t, r.backend.Writes(), 1)
	st := r.state("title")
	assert.Equal(t, field.StatusSaved, st.Status)
	assert.Equal(t, int64(2), st.Generation)
}

func TestSession_SaveNowSkipsDebounce(t *testing.T) {
	r := newRig(t)

	r.edit("title", "Clinic")
	r.edit("budget", 5.0)
	require.NoError(t, r.s.SaveNow("title"))
	r.flush()

	pending := r.disp.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "title", pending[0].Key.Field)

	require.NoError(t, r.s.SaveNow())
	r.flush()
	assert.Equal(t, 2, r.disp.Len())

	r.advance(time.Minute)
	assert.Equal(t, 2, r.disp.Len(), "cancelled debounce timers stay cancelled")
}

func TestSession_SweepPicksUpMissedTimer(t *testing.T) {
	r := newRig(t, WithSweepInterval(5*time.Second))
	key := field.NewKey(record, "title")

	r.edit("title", "Schools")
	// Lose the debounce timer.
	require.True(t, r.s.sched.Cancel(key))

	r.advance(4 * time.Second)
	assert.Equal(t, 0, r.disp.Len())

	r.advance(time.Second)
	require.Equal(t, 1, r.disp.Len())
	r.release("title")
	assert.Equal(t, field.StatusSaved, r.state("title").Status)
}

func TestSession_DisposeDropsLateOutcome(t *testing.T) {
	r := newRig(t)
	log := r.watch("title")
	var records int
	_, err := r.s.OnRecordStatus(func(status.RecordUpdate) { records++ })
	require.NoError(t, err)

	r.edit("title", "Bridges")
	r.advance(time.Second)
	require.Equal(t, 1, r.disp.Len())

	before := r.state("title")
	notified, recordNotified := log.count(), records

	r.s.Dispose()
	r.s.Dispose()
	assert.True(t, r.s.Disposed())
	assert.Equal(t, 0, r.clk.Pending(), "timers released")

	require.True(t, r.disp.Release("title"))

	assert.Equal(t, before, r.state("title"))
	assert.Equal(t, notified, log.count())
	assert.Equal(t, recordNotified, records)

	assert.ErrorIs(t, r.s.Edit("title", "x"), ErrDisposed)
	assert.ErrorIs(t, r.s.Flush(context.Background()), ErrDisposed)
	assert.ErrorIs(t, r.s.Load(context.Background()), ErrDisposed)
	_, err = r.s.OnFieldStatus("title", func(status.FieldUpdate) {})
	assert.ErrorIs(t, err, ErrDisposed)
}

func TestSession_LoadSeedsConfirmedValues(t *testing.T) {
	r := newRig(t)
	r.backend.Seed(record, map[string]any{"title": "Roads", "budget": 100.0})

	require.NoError(t, r.s.Load(context.Background()))

	st := r.state("title")
	assert.Equal(t, "Roads", st.Confirmed)
	assert.Equal(t, field.StatusIdle, st.Status)
	assert.Zero(t, st.Generation)

	// Typing the loaded value back does not write.
	r.edit("budget", 100.0)
	r.advance(time.Second)
	assert.Empty(t, r.backend.Writes())
}

func TestSession_LoadFailure(t *testing.T) {
	r := newRig(t)
	err := r.s.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, save.CategoryNotFound, save.CategoryOf(err))
}

func TestSession_ReloadDiscardsInFlightOutcome(t *testing.T) {
	r := newRig(t)
	r.backend.Seed(record, map[string]any{"title": "Roads"})

	r.edit("title", "Rails")
	r.advance(time.Second)
	require.Equal(t, 1, r.disp.Len())

	require.NoError(t, r.s.Reload(context.Background()))
	st := r.state("title")
	assert.Equal(t, "Roads", st.Confirmed)
	assert.Zero(t, st.Generation)

	r.edit("title", "Ports")
	r.release("title")

	st = r.state("title")
	assert.Equal(t, "Roads", st.Confirmed, "outcome from before the reload is ignored")
	assert.Equal(t, "Ports", st.Pending)
	assert.Equal(t, field.StatusScheduled, st.Status)

	r.advance(time.Second)
	r.release("title")
	assert.Equal(t, "Ports", r.state("title").Confirmed)
}

func TestSession_ReloadKeepsSingleWriteInFlight(t *testing.T) {
	tests := []struct {
		name  string
		after string
	}{
		{"new value", "Ports"},
		{"reloaded value", "Roads"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t)
			r.backend.Seed(record, map[string]any{"title": "Roads"})

			r.edit("title", "Rails")
			r.advance(time.Second)
			require.Equal(t, 1, r.disp.Len())

			require.NoError(t, r.s.Reload(context.Background()))
			r.edit("title", tt.after)
			r.advance(time.Second)
			assert.Equal(t, 1, r.disp.Len(), "the write from before the reload still holds the field")

			r.release("title")
			pending := r.disp.Pending()
			require.Len(t, pending, 1, "the edit is written once the old write ends")
			assert.Equal(t, tt.after, pending[0].Value)

			r.release("title")
			r.advance(time.Minute)

			got, _ := r.backend.Value(record, "title")
			assert.Equal(t, tt.after, got)
			st := r.state("title")
			assert.Equal(t, tt.after, st.Confirmed)
			assert.Equal(t, field.StatusSaved, st.Status)
			assert.Equal(t, 0, r.disp.Len())
		})
	}
}

func TestSession_ReloadedFieldStaysIdleAfterOldWrite(t *testing.T) {
	r := newRig(t)
	r.backend.Seed(record, map[string]any{"title": "Roads"})

	r.edit("title", "Rails")
	r.advance(time.Second)
	require.NoError(t, r.s.Reload(context.Background()))
	log := r.watch("title")

	r.release("title")
	assert.Equal(t, 0, r.disp.Len())
	st := r.state("title")
	assert.Equal(t, field.StatusIdle, st.Status)
	assert.Equal(t, "Roads", st.Confirmed)
	assert.True(t, st.Diverged)
	assert.Equal(t, 1, log.count(), "no status change from the old write")
}

func TestSession_FailureUpdatesDescribeError(t *testing.T) {
	r := newRig(t)
	log := r.watch("budget")
	r.backend.Enqueue("budget", errTimeout, errValidation)

	r.edit("budget", 10.0)
	r.advance(time.Second)
	r.release("budget")

	u := log.updates[len(log.updates)-1]
	assert.True(t, u.Retrying)
	assert.Equal(t, save.CategoryTimeout, u.Category)
	assert.Equal(t, save.CategoryTimeout.Describe(), u.Message)
	assert.Equal(t, r.clk.Now().Add(500*time.Millisecond), u.RetryAt)
	assert.Equal(t, 500*time.Millisecond, u.RetryIn(r.clk.Now()))

	r.advance(500 * time.Millisecond)
	r.release("budget")

	u = log.updates[len(log.updates)-1]
	assert.True(t, u.Terminal)
	assert.Equal(t, save.CategoryValidation, u.Category)
	assert.Equal(t, "The value was rejected", u.Message)
	assert.True(t, u.RetryAt.IsZero())
	assert.Equal(t, save.CategoryValidation, r.s.RecordStatus().Category)
}

func TestSession_LateSubscriberStartsAtCurrentGeneration(t *testing.T) {
	r := newRig(t)
	r.edit("title", "A")
	r.edit("title", "AB")

	log := r.watch("title")
	require.Equal(t, 1, log.count())
	first := log.updates[0]
	assert.Equal(t, int64(2), first.Generation)
	assert.Equal(t, field.StatusScheduled, first.Status)

	r.advance(time.Second)
	for _, u := range log.updates {
		assert.GreaterOrEqual(t, u.Generation, first.Generation)
	}
}

func TestSession_DismissTerminalError(t *testing.T) {
	r := newRig(t)
	r.backend.Enqueue("code", errValidation)

	r.edit("code", "b")
	r.advance(time.Second)
	r.release("code")
	require.True(t, r.state("code").Terminal)

	require.NoError(t, r.s.Dismiss("code"))
	r.flush()

	st := r.state("code")
	assert.Equal(t, field.StatusIdle, st.Status)
	assert.Nil(t, st.LastError)
	assert.Equal(t, "b", st.Pending)
}

func TestSession_RecordStatusAggregates(t *testing.T) {
	r := newRig(t)
	var got []field.Status
	_, err := r.s.OnRecordStatus(func(u status.RecordUpdate) { got = append(got, u.Status) })
	require.NoError(t, err)
	r.flush()

	r.backend.Enqueue("code", errValidation)
	r.edit("title", "Roads")
	r.edit("code", "b")
	r.advance(time.Second)
	r.release("title")
	r.release("code")

	assert.Equal(t, field.StatusError, r.s.RecordStatus().Status)
	assert.Equal(t, field.StatusIdle, got[0])
	assert.Contains(t, got, field.StatusSaving)
	assert.Equal(t, field.StatusError, got[len(got)-1])

	require.NoError(t, r.s.Dismiss("code"))
	r.flush()
	assert.Equal(t, field.StatusSaved, r.s.RecordStatus().Status)
	assert.True(t, r.s.Settled())
}

func TestSession_DebugRegistryRecordsOutcomes(t *testing.T) {
	reg := debug.NewRegistry(8, debug.WithEnabled())
	r := newRig(t, WithDebugRegistry(reg))
	r.backend.Enqueue("budget", errTimeout)

	r.edit("budget", 1.0)
	r.advance(time.Second)
	r.release("budget")
	r.advance(500 * time.Millisecond)
	r.release("budget")

	outs := reg.Outcomes()
	require.Len(t, outs, 2)
	assert.Equal(t, save.ResultRetryable, outs[0].Result)
	assert.Equal(t, save.ResultSuccess, outs[1].Result)
	assert.Equal(t, "session-1", outs[0].SessionID)

	snap := r.s.Snapshot()
	assert.Equal(t, "session-1", snap.SessionID)
	assert.Len(t, snap.Outcomes, 2)
	assert.Len(t, snap.Fields, 1)
	assert.Same(t, reg, r.s.Debug())
}

func TestFixedGenerator(t *testing.T) {
	g := NewFixedGenerator("a", "b")
	assert.Equal(t, "a", g.Generate())
	assert.Equal(t, "b", g.Generate())
	assert.Equal(t, "b-1", g.Generate())

	assert.Equal(t, "session-1", NewFixedGenerator().Generate())
	assert.Len(t, UUIDv7Generator{}.Generate(), 36)
}

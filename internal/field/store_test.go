package field

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"
)

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// recordingStore returns a store plus the list of notifications it emitted.
func recordingStore(t *testing.T) (*Store, *[]State) {
	t.Helper()
	var seen []State
	s := NewStore(
		WithNow(func() time.Time { return fixedNow }),
		WithNotifier(func(st State) { seen = append(seen, st) }),
	)
	return s, &seen
}

func TestStore_EditIncrementsGeneration(t *testing.T) {
	s, seen := recordingStore(t)
	key := NewKey("activity-1", "title")

	assert.Equal(t, int64(1), s.Edit(key, "A"))
	assert.Equal(t, int64(2), s.Edit(key, "AB"))
	assert.Equal(t, int64(3), s.Edit(key, "ABC"))

	st, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, "ABC", st.Pending)
	assert.True(t, st.HasPending)
	assert.Equal(t, StatusScheduled, st.Status)
	assert.Len(t, *seen, 3, "every edit notifies")
}

func TestStore_EditResetsAttempt(t *testing.T) {
	s, _ := recordingStore(t)
	key := NewKey("activity-1", "budget")

	gen := s.Edit(key, 100)
	require.NoError(t, s.BeginSave(key, gen))
	require.True(t, s.Fail(key, gen, errors.New("boom"), false))

	st, _ := s.Get(key)
	assert.Equal(t, 1, st.Attempt)

	s.Edit(key, 200)
	st, _ = s.Get(key)
	assert.Equal(t, 0, st.Attempt)
	assert.Equal(t, StatusScheduled, st.Status)
}

func TestStore_BeginSave(t *testing.T) {
	s, _ := recordingStore(t)
	key := NewKey("activity-1", "title")

	err := s.BeginSave(key, 1)
	assert.ErrorIs(t, err, ErrUnknownField)

	s.Ensure(key)
	err = s.BeginSave(key, 0)
	assert.ErrorIs(t, err, ErrNothingPending)

	gen := s.Edit(key, "A")
	require.NoError(t, s.BeginSave(key, gen))

	st, _ := s.Get(key)
	assert.Equal(t, StatusSaving, st.Status)
	assert.Equal(t, gen, st.InFlight)

	err = s.BeginSave(key, gen)
	assert.ErrorIs(t, err, ErrSaveInFlight)
}

func TestStore_ConfirmCurrentGeneration(t *testing.T) {
	s, seen := recordingStore(t)
	key := NewKey("activity-1", "title")

	gen := s.Edit(key, "A")
	require.NoError(t, s.BeginSave(key, gen))
	require.True(t, s.Confirm(key, gen, "A"))

	st, _ := s.Get(key)
	assert.Equal(t, StatusSaved, st.Status)
	assert.Equal(t, "A", st.Confirmed)
	assert.False(t, st.HasPending, "saved implies nothing pending")
	assert.Nil(t, st.Pending)
	assert.Zero(t, st.InFlight)
	assert.Equal(t, fixedNow, st.LastSavedAt)
	assert.NoError(t, st.LastError)

	last := (*seen)[len(*seen)-1]
	assert.Equal(t, StatusSaved, last.Status)
}

func TestStore_ConfirmStaleGenerationDropped(t *testing.T) {
	s, seen := recordingStore(t)
	key := NewKey("activity-1", "code")

	g1 := s.Edit(key, "A")
	require.NoError(t, s.BeginSave(key, g1))
	g2 := s.Edit(key, "B")
	notified := len(*seen)

	assert.False(t, s.Confirm(key, g1, "A"), "stale confirm must be dropped")
	assert.Len(t, *seen, notified, "stale confirm must not notify")

	st, _ := s.Get(key)
	assert.False(t, st.HasConfirmed)
	assert.Equal(t, "B", st.Pending)
	assert.Equal(t, StatusScheduled, st.Status)
	assert.Zero(t, st.InFlight, "in-flight marker released even for stale outcomes")

	require.NoError(t, s.BeginSave(key, g2))
	require.True(t, s.Confirm(key, g2, "B"))
	st, _ = s.Get(key)
	assert.Equal(t, "B", st.Confirmed)
}

func TestStore_DivergedUntilCurrentConfirm(t *testing.T) {
	s, _ := recordingStore(t)
	key := NewKey("activity-1", "title")
	s.Load("activity-1", map[string]any{"title": "X"})

	g1 := s.Edit(key, "Y")
	require.NoError(t, s.BeginSave(key, g1))
	st, _ := s.Get(key)
	assert.True(t, st.Diverged, "a dispatched write may replace the confirmed value")

	g2 := s.Edit(key, "X")
	require.False(t, s.Confirm(key, g1, "Y"))
	st, _ = s.Get(key)
	assert.True(t, st.Diverged, "stale confirm leaves the backend value unknown")
	assert.Equal(t, "X", st.Confirmed)

	require.NoError(t, s.BeginSave(key, g2))
	require.True(t, s.Confirm(key, g2, "X"))
	st, _ = s.Get(key)
	assert.False(t, st.Diverged)
}

func TestStore_DivergeDoesNotNotify(t *testing.T) {
	s, seen := recordingStore(t)
	key := NewKey("activity-1", "title")
	s.Load("activity-1", map[string]any{"title": "X"})
	notified := len(*seen)

	s.Diverge(key)

	st, _ := s.Get(key)
	assert.True(t, st.Diverged)
	assert.Equal(t, StatusIdle, st.Status)
	assert.Len(t, *seen, notified)
}

func TestStore_FailStaleGenerationDropped(t *testing.T) {
	s, _ := recordingStore(t)
	key := NewKey("activity-1", "code")

	g1 := s.Edit(key, "A")
	require.NoError(t, s.BeginSave(key, g1))
	s.Edit(key, "B")

	assert.False(t, s.Fail(key, g1, errors.New("late"), true))
	st, _ := s.Get(key)
	assert.Equal(t, StatusScheduled, st.Status)
	assert.NoError(t, st.LastError)
	assert.Equal(t, 0, st.Attempt)
}

func TestStore_FailTerminalKeepsPending(t *testing.T) {
	s, _ := recordingStore(t)
	key := NewKey("activity-1", "code")

	gen := s.Edit(key, "B")
	require.NoError(t, s.BeginSave(key, gen))
	cause := errors.New("rejected")
	require.True(t, s.Fail(key, gen, cause, true))

	st, _ := s.Get(key)
	assert.Equal(t, StatusError, st.Status)
	assert.True(t, st.Terminal)
	assert.Equal(t, "B", st.Pending)
	assert.True(t, st.HasPending)
	assert.Equal(t, cause, st.LastError)
}

func TestStore_Restart(t *testing.T) {
	s, _ := recordingStore(t)
	key := NewKey("activity-1", "code")

	_, ok := s.Restart(key)
	assert.False(t, ok, "unknown field cannot restart")

	gen := s.Edit(key, "B")
	require.NoError(t, s.BeginSave(key, gen))
	_, ok = s.Restart(key)
	assert.False(t, ok, "cannot restart while in flight")

	require.True(t, s.Fail(key, gen, errors.New("x"), true))
	got, ok := s.Restart(key)
	require.True(t, ok)
	assert.Equal(t, gen, got, "restart keeps the generation")

	st, _ := s.Get(key)
	assert.Equal(t, StatusScheduled, st.Status)
	assert.Equal(t, 0, st.Attempt)
	assert.False(t, st.Terminal)
}

func TestStore_Dismiss(t *testing.T) {
	s, _ := recordingStore(t)
	key := NewKey("activity-1", "code")

	gen := s.Edit(key, "B")
	require.NoError(t, s.BeginSave(key, gen))
	require.True(t, s.Fail(key, gen, errors.New("x"), true))

	assert.True(t, s.Dismiss(key))
	st, _ := s.Get(key)
	assert.Equal(t, StatusIdle, st.Status)
	assert.NoError(t, st.LastError)
	assert.Equal(t, "B", st.Pending, "dismiss keeps the value for a later forced save")

	assert.False(t, s.Dismiss(key), "nothing left to dismiss")
}

func TestStore_LoadSeedsConfirmed(t *testing.T) {
	s, seen := recordingStore(t)

	edited := NewKey("activity-1", "title")
	s.Edit(edited, "typed")

	s.Load("activity-1", map[string]any{
		"title":  "from server",
		"budget": 1200.5,
	})

	st, _ := s.Get(NewKey("activity-1", "budget"))
	assert.Equal(t, 1200.5, st.Confirmed)
	assert.Equal(t, StatusIdle, st.Status)
	assert.Equal(t, int64(0), st.Generation, "load never bumps generation")

	st, _ = s.Get(edited)
	assert.Equal(t, "from server", st.Confirmed)
	assert.Equal(t, "typed", st.Pending, "load never clobbers pending edits")
	assert.Equal(t, StatusScheduled, st.Status)

	// Edit + two loads, loads in sorted field order.
	require.Len(t, *seen, 3)
	assert.Equal(t, "budget", (*seen)[1].Key.Field)
	assert.Equal(t, "title", (*seen)[2].Key.Field)
}

func TestStore_ResetDiscardsFields(t *testing.T) {
	s, _ := recordingStore(t)
	key := NewKey("activity-1", "title")
	s.Edit(key, "A")
	s.Edit(key, "B")

	s.Reset()
	assert.Equal(t, 0, s.Len())

	assert.Equal(t, int64(1), s.Edit(key, "C"), "generation starts over after reset")
}

func TestStore_SnapshotCreationOrder(t *testing.T) {
	s, _ := recordingStore(t)
	s.Edit(NewKey("r", "zeta"), 1)
	s.Edit(NewKey("r", "alpha"), 2)
	s.Ensure(NewKey("r", "mid"))

	snap := s.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "zeta", snap[0].Key.Field)
	assert.Equal(t, "alpha", snap[1].Key.Field)
	assert.Equal(t, "mid", snap[2].Key.Field)
}

func TestState_MarshalJSON(t *testing.T) {
	st := State{
		Key:         NewKey("r", "title"),
		Pending:     "A",
		HasPending:  true,
		Generation:  2,
		Status:      StatusError,
		LastError:   errors.New("boom"),
		LastSavedAt: fixedNow,
	}

	b, err := json.Marshal(st)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, "title", decoded["field"])
	assert.Equal(t, "error", decoded["status"])
	assert.Equal(t, "boom", decoded["last_error"])
	assert.Equal(t, "A", decoded["pending"])
}

func TestStatus_RoundTripNames(t *testing.T) {
	for _, s := range []Status{StatusIdle, StatusScheduled, StatusSaving, StatusSaved, StatusError} {
		parsed, err := ParseStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	_, err := ParseStatus("bogus")
	assert.Error(t, err)
	assert.Equal(t, "status(42)", Status(42).String())
}

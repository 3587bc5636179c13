package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/save"
)

func TestAppendAndReadOutcomes(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	timeout := save.NewError(save.CategoryTimeout, "request timed out")
	invalid := save.FromStatus(422, "code must be upper case", "")

	require.NoError(t, s.AppendOutcome(ctx, createTestOutcome("budget", 1, timeout)))
	require.NoError(t, s.AppendOutcome(ctx, createTestOutcome("budget", 1, nil)))
	require.NoError(t, s.AppendOutcome(ctx, createTestOutcome("code", 2, invalid)))

	all, err := s.ReadOutcomes(ctx, OutcomeFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	first := all[0]
	assert.Equal(t, "budget", first.Key.Field)
	assert.Equal(t, save.ResultRetryable, first.Result)
	require.NotNil(t, first.Err)
	assert.Equal(t, save.CategoryTimeout, first.Err.Category)
	assert.Equal(t, "v", first.Value)
	assert.Equal(t, testNow, first.StartedAt)
	assert.Equal(t, int64(40), first.Duration().Milliseconds())

	assert.Nil(t, all[1].Err)
	assert.Equal(t, 422, all[2].Err.StatusCode)
	assert.Equal(t, save.ResultTerminal, all[2].Result)
}

func TestReadOutcomes_Filter(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	timeout := save.NewError(save.CategoryTimeout, "request timed out")

	for gen := int64(1); gen <= 4; gen++ {
		require.NoError(t, s.AppendOutcome(ctx, createTestOutcome("budget", gen, timeout)))
	}
	require.NoError(t, s.AppendOutcome(ctx, createTestOutcome("title", 1, nil)))

	failures, err := s.ReadOutcomes(ctx, OutcomeFilter{FailuresOnly: true})
	require.NoError(t, err)
	assert.Len(t, failures, 4)

	titles, err := s.ReadOutcomes(ctx, OutcomeFilter{RecordID: "activity-1", Field: "title"})
	require.NoError(t, err)
	assert.Len(t, titles, 1)

	recent, err := s.ReadOutcomes(ctx, OutcomeFilter{Field: "budget", Limit: 2})
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(3), recent[0].Generation)
	assert.Equal(t, int64(4), recent[1].Generation)
}

func TestFailureCounts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	timeout := save.NewError(save.CategoryTimeout, "request timed out")
	server := save.NewError(save.CategoryServer, "database locked")
	invalid := save.FromStatus(422, "bad", "")

	require.NoError(t, s.AppendOutcome(ctx, createTestOutcome("budget", 1, timeout)))
	require.NoError(t, s.AppendOutcome(ctx, createTestOutcome("budget", 1, server)))
	require.NoError(t, s.AppendOutcome(ctx, createTestOutcome("code", 1, invalid)))
	require.NoError(t, s.AppendOutcome(ctx, createTestOutcome("title", 1, nil)))

	counts, err := s.FailureCounts(ctx, "activity-1")
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, FieldFailures{RecordID: "activity-1", Field: "budget", Failures: 2, Values: 1, LastCategory: save.CategoryServer}, counts[0])
	assert.Equal(t, FieldFailures{RecordID: "activity-1", Field: "code", Failures: 1, Values: 1, LastCategory: save.CategoryValidation}, counts[1])
}

func TestFailureCounts_DistinctValues(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	timeout := save.NewError(save.CategoryTimeout, "request timed out")

	for i, v := range []any{"a", "a", map[string]any{"x": 1.0, "y": 2.0}, map[string]any{"y": 2.0, "x": 1.0}} {
		o := createTestOutcome("title", int64(i+1), timeout)
		o.Value = v
		require.NoError(t, s.AppendOutcome(ctx, o))
	}

	counts, err := s.FailureCounts(ctx, "")
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, 4, counts[0].Failures)
	assert.Equal(t, 2, counts[0].Values, "key order does not make a new value")
}

func TestMigrateToV2_KeepsOldRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(schemaSQL)
	require.NoError(t, err)
	_, err = db.Exec(`
		INSERT INTO save_outcomes
		(session_id, record_id, field, generation, attempt, result, value, started_at, finished_at)
		VALUES ('s', 'activity-1', 'code', 1, 1, 'retryable-failure', '"b"', ?, ?)`,
		formatTime(testNow), formatTime(testNow))
	require.NoError(t, err)
	_, err = db.Exec("PRAGMA user_version = 1")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()
	assert.NoError(t, s.verifyPragma("user_version", "2"))

	require.NoError(t, s.AppendOutcome(context.Background(), createTestOutcome("code", 2, save.NewError(save.CategoryTimeout, "t"))))
	counts, err := s.FailureCounts(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, 2, counts[0].Failures)
	assert.Equal(t, 2, counts[0].Values)
}

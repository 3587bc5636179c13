package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/field"
	"github.com/roach88/fieldsync/internal/save"
)

var testNow = time.Date(2026, time.January, 2, 9, 0, 0, 0, time.UTC)

// createTestStore opens a fresh database in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), WithNow(func() time.Time { return testNow }))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestOutcome(fieldName string, gen int64, err *save.Error) save.Outcome {
	o := save.Outcome{
		SessionID:  "session-1",
		Key:        field.NewKey("activity-1", fieldName),
		Value:      "v",
		Generation: gen,
		Attempt:    1,
		Result:     save.ResultFor(err),
		Err:        err,
		StartedAt:  testNow,
		FinishedAt: testNow.Add(40 * time.Millisecond),
	}
	return o
}

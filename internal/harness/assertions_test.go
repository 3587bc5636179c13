package harness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/testutil"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{At: 0, Kind: KindStep, Text: `edit title "A"`},
		{At: 0, Kind: KindStatus, Text: "title scheduled gen=1"},
		{At: time.Second, Kind: KindStatus, Text: "title saving gen=1"},
		{At: time.Second, Kind: KindWrite, Text: `title gen=1 attempt=1 "A"`},
		{At: time.Second, Kind: KindStatus, Text: "title saved gen=1"},
	}
}

func TestTraceEvent_String(t *testing.T) {
	e := TraceEvent{At: 1400 * time.Millisecond, Kind: KindWrite, Text: `title gen=3 attempt=1 "A3"`}
	assert.Equal(t, `+1400ms write title gen=3 attempt=1 "A3"`, e.String())
}

func TestAssertTraceContains(t *testing.T) {
	assert.NoError(t, assertTraceContains(sampleTrace(), Assertion{Line: "write title gen=1"}))

	err := assertTraceContains(sampleTrace(), Assertion{Line: "write code"})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertTraceContains, ae.Type)
	assert.Equal(t, "not found in trace", ae.Actual)
	assert.Contains(t, ae.Error(), "+1000ms write title")
}

func TestAssertTraceOrder(t *testing.T) {
	ok := Assertion{Lines: []string{"scheduled", "saving", "saved"}}
	assert.NoError(t, assertTraceOrder(sampleTrace(), ok))

	reversed := Assertion{Lines: []string{"saved", "scheduled"}}
	err := assertTraceOrder(sampleTrace(), reversed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"scheduled" not found after the previous match`)

	missing := Assertion{Lines: []string{"scheduled", "error"}}
	assert.Error(t, assertTraceOrder(sampleTrace(), missing))
}

func TestAssertTraceCount(t *testing.T) {
	assert.NoError(t, assertTraceCount(sampleTrace(), Assertion{Line: "status title", Count: 3}))
	assert.NoError(t, assertTraceCount(sampleTrace(), Assertion{Line: "write code", Count: 0}))

	err := assertTraceCount(sampleTrace(), Assertion{Line: "status title", Count: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 lines")
}

func TestAssertWrites(t *testing.T) {
	result := NewResult()
	result.Writes = []testutil.Write{
		{RecordID: "activity-1", Field: "code", Value: "A"},
		{RecordID: "activity-1", Field: "title", Value: "T"},
		{RecordID: "activity-1", Field: "code", Value: "B"},
	}

	assert.NoError(t, assertWrites(result, Assertion{Field: "code", Count: 2}))
	assert.NoError(t, assertWrites(result, Assertion{Field: "code", Count: 2, Values: []any{"A", "B"}}))
	assert.Error(t, assertWrites(result, Assertion{Field: "code", Count: 1}))
	assert.Error(t, assertWrites(result, Assertion{Field: "code", Count: 2, Values: []any{"B", "A"}}))
}

func TestEvaluateAssertions(t *testing.T) {
	result := NewResult()
	result.Trace = sampleTrace()

	failures := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceContains, Line: "saved"},
		{Type: AssertTraceCount, Line: "write", Count: 5},
		{Type: "bogus"},
	})
	require.Len(t, failures, 2)
	assert.Contains(t, failures[0], "assertions[1]")
	assert.Contains(t, failures[1], `unknown assertion type "bogus"`)
}

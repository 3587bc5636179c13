package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/fieldsync/internal/value"
)

// AssertionError is returned when an assertion fails.
// It includes the full trace to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", event)
		}
	}
	return buf.String()
}

// assertTraceContains checks that some trace line contains the fragment.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if strings.Contains(event.String(), a.Line) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("a line containing %q", a.Line),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the fragments appear in order. Lines don't
// need to be consecutive; each fragment is searched after the previous
// match.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	pos := 0
	for _, want := range a.Lines {
		found := false
		for pos < len(trace) {
			line := trace[pos].String()
			pos++
			if strings.Contains(line, want) {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("lines in order: %q", a.Lines),
				Actual:   fmt.Sprintf("%q not found after the previous match", want),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that exactly Count lines contain the fragment.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if strings.Contains(event.String(), a.Line) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d lines containing %q", a.Count, a.Line),
			Actual:   fmt.Sprintf("%d lines", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertWrites checks the number of backend writes for a field and,
// when given, the written values in order.
func assertWrites(result *Result, a Assertion) error {
	writes := result.WritesFor(a.Field)
	if len(writes) != a.Count {
		return &AssertionError{
			Type:     AssertWrites,
			Expected: fmt.Sprintf("%d writes for %s", a.Count, a.Field),
			Actual:   fmt.Sprintf("%d writes", len(writes)),
			Trace:    result.Trace,
		}
	}
	if a.Values == nil {
		return nil
	}
	got := make([]string, len(writes))
	for i, w := range writes {
		got[i] = value.String(w.Value)
	}
	want := make([]string, len(a.Values))
	for i, v := range a.Values {
		want[i] = value.String(v)
	}
	for i := range want {
		if i >= len(got) || !value.Equal(writes[i].Value, a.Values[i]) {
			return &AssertionError{
				Type:     AssertWrites,
				Expected: fmt.Sprintf("%s written as %v", a.Field, want),
				Actual:   fmt.Sprintf("%v", got),
				Trace:    result.Trace,
			}
		}
	}
	return nil
}

// EvaluateAssertions runs every assertion and returns the failure
// messages, in assertion order.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertWrites:
			err = assertWrites(result, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

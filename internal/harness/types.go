package harness

import (
	"fmt"
	"time"

	"github.com/roach88/fieldsync/internal/field"
	"github.com/roach88/fieldsync/internal/testutil"
)

// Trace event kinds.
const (
	KindStep     = "step"     // a scenario step started
	KindStatus   = "status"   // a field subscriber received an update
	KindRecord   = "record"   // the record subscriber received an update
	KindWrite    = "write"    // the session dispatched a write
	KindResponse = "response" // the backend answered a released write
)

// TraceEvent is one line of a scenario trace. At is the fake clock offset
// from the scenario start.
type TraceEvent struct {
	At   time.Duration `json:"-"`
	AtMS int64         `json:"at_ms"`
	Kind string        `json:"kind"`
	Text string        `json:"text"`
}

// String renders the event as a golden trace line.
func (e TraceEvent) String() string {
	return fmt.Sprintf("+%dms %s %s", e.At.Milliseconds(), e.Kind, e.Text)
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect step and assertion held.
	Pass bool `json:"pass"`

	// Trace is every observed event in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`

	// Fields is the final state of every field.
	Fields []field.State `json:"fields"`

	// Writes is every backend write, in order.
	Writes []testutil.Write `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Lines renders the trace as golden lines.
func (r *Result) Lines() []string {
	out := make([]string, len(r.Trace))
	for i, e := range r.Trace {
		out[i] = e.String()
	}
	return out
}

// WritesFor returns the backend writes for one field.
func (r *Result) WritesFor(fieldName string) []testutil.Write {
	var out []testutil.Write
	for _, w := range r.Writes {
		if w.Field == fieldName {
			out = append(out, w)
		}
	}
	return out
}

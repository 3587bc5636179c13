package save

import (
	"time"

	"gitlab.com/tozd/go/errors"

	"github.com/roach88/fieldsync/internal/field"
)

// Request is one field write, built when a debounce window (or a retry
// backoff) elapses.
type Request struct {
	SessionID  string    `json:"session_id"`
	Key        field.Key `json:"key"`
	Value      any       `json:"value"`
	Generation int64     `json:"generation"`
	Attempt    int       `json:"attempt"`
	IssuedAt   time.Time `json:"issued_at"`
}

// Result classifies an outcome.
type Result int

const (
	// ResultSuccess means the backend stored the value.
	ResultSuccess Result = iota
	// ResultRetryable means the write failed in a way worth retrying.
	ResultRetryable
	// ResultTerminal means retrying the same value cannot help.
	ResultTerminal
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultRetryable:
		return "retryable-failure"
	case ResultTerminal:
		return "terminal-failure"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Result) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// ParseResult is the inverse of Result.String.
func ParseResult(s string) (Result, bool) {
	for _, r := range []Result{ResultSuccess, ResultRetryable, ResultTerminal} {
		if r.String() == s {
			return r, true
		}
	}
	return 0, false
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Result) UnmarshalText(b []byte) error {
	v, ok := ParseResult(string(b))
	if !ok {
		return errors.Errorf("unknown result %q", b)
	}
	*r = v
	return nil
}

// Outcome is what the persistence client reports for a Request.
type Outcome struct {
	SessionID  string    `json:"session_id"`
	Key        field.Key `json:"key"`
	Value      any       `json:"value"`
	Generation int64     `json:"generation"`
	Attempt    int       `json:"attempt"`
	Result     Result    `json:"result"`
	Err        *Error    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration is the wall time the write took.
func (o Outcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}

// Succeeded reports whether the write was stored.
func (o Outcome) Succeeded() bool {
	return o.Result == ResultSuccess
}

// OutcomeFor builds the outcome of req given the error returned by the
// backend (nil for success).
func OutcomeFor(req Request, err error, started, finished time.Time) Outcome {
	out := Outcome{
		SessionID:  req.SessionID,
		Key:        req.Key,
		Value:      req.Value,
		Generation: req.Generation,
		Attempt:    req.Attempt,
		Result:     ResultSuccess,
		StartedAt:  started,
		FinishedAt: finished,
	}
	if err != nil {
		out.Err = Classify(err)
		out.Result = ResultFor(out.Err)
	}
	return out
}

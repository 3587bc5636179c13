package field

import (
	"encoding/json"
	"time"
)

// State is the per-field record kept by the Store.
//
// Pending carries the optimistic value. Because nil is a legitimate field
// value (clearing a field), HasPending distinguishes "no edit outstanding"
// from "the user cleared the field".
type State struct {
	Key Key

	// Confirmed is the last value known to be durably stored. It changes only
	// on a successful, non-stale save or on record load.
	Confirmed    any
	HasConfirmed bool

	// Pending is the most recent value the user typed that is not yet
	// guaranteed durable.
	Pending    any
	HasPending bool

	// Generation increments on every local edit. It only resets when the
	// record is reloaded.
	Generation int64

	// InFlight is the generation currently being written, or 0.
	InFlight int64

	// Diverged is set once a write was dispatched after the backend last
	// matched Confirmed. While it is set the backend value is unknown and
	// an edit back to Confirmed must still be written.
	Diverged bool

	Status Status

	// Attempt counts failed attempts in the current save chain. A new edit
	// resets it to 0.
	Attempt int

	// Terminal is set when the chain stopped retrying. Only ForceSave or a
	// new edit restarts it.
	Terminal bool

	LastError   error
	LastSavedAt time.Time
}

// IsCurrent reports whether an outcome issued for gen may still be applied.
// This is the Generation Guard.
func (s State) IsCurrent(gen int64) bool {
	return gen == s.Generation
}

// Saving reports whether a write is in flight.
func (s State) Saving() bool {
	return s.InFlight != 0
}

// stateJSON is the wire shape used by the debug snapshot export.
type stateJSON struct {
	RecordID     string     `json:"record_id"`
	Field        string     `json:"field"`
	Confirmed    any        `json:"confirmed,omitempty"`
	HasConfirmed bool       `json:"has_confirmed"`
	Pending      any        `json:"pending,omitempty"`
	HasPending   bool       `json:"has_pending"`
	Generation   int64      `json:"generation"`
	InFlight     int64      `json:"in_flight,omitempty"`
	Diverged     bool       `json:"diverged,omitempty"`
	Status       Status     `json:"status"`
	Attempt      int        `json:"attempt"`
	Terminal     bool       `json:"terminal,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	LastSavedAt  *time.Time `json:"last_saved_at,omitempty"`
}

// MarshalJSON renders the state with the error flattened to its message.
func (s State) MarshalJSON() ([]byte, error) {
	out := stateJSON{
		RecordID:     s.Key.RecordID,
		Field:        s.Key.Field,
		Confirmed:    s.Confirmed,
		HasConfirmed: s.HasConfirmed,
		Pending:      s.Pending,
		HasPending:   s.HasPending,
		Generation:   s.Generation,
		InFlight:     s.InFlight,
		Diverged:     s.Diverged,
		Status:       s.Status,
		Attempt:      s.Attempt,
		Terminal:     s.Terminal,
	}
	if s.LastError != nil {
		out.LastError = s.LastError.Error()
	}
	if !s.LastSavedAt.IsZero() {
		t := s.LastSavedAt
		out.LastSavedAt = &t
	}
	return json.Marshal(out)
}

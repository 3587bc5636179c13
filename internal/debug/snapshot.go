package debug

import (
	"encoding/json"
	"io"
	"time"

	"github.com/roach88/fieldsync/internal/field"
	"github.com/roach88/fieldsync/internal/save"
	"github.com/roach88/fieldsync/internal/status"
)

// Snapshot is the read-only export of one session.
type Snapshot struct {
	SessionID string              `json:"session_id"`
	RecordID  string              `json:"record_id"`
	TakenAt   time.Time           `json:"taken_at"`
	Record    status.RecordUpdate `json:"record"`
	Fields    []field.State       `json:"fields"`
	Outcomes  []save.Outcome      `json:"outcomes"`
}

// Failures returns the buffered outcomes that did not succeed.
func (s Snapshot) Failures() []save.Outcome {
	var out []save.Outcome
	for _, o := range s.Outcomes {
		if !o.Succeeded() {
			out = append(out, o)
		}
	}
	return out
}

// WriteJSON writes the snapshot as indented JSON.
func (s Snapshot) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

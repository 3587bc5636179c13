package status

import (
	"time"

	"github.com/roach88/fieldsync/internal/field"
	"github.com/roach88/fieldsync/internal/save"
)

// FieldUpdate is what a field subscriber receives.
type FieldUpdate struct {
	Key         field.Key    `json:"key"`
	Status      field.Status `json:"status"`
	Generation  int64        `json:"generation"`
	LastSavedAt time.Time    `json:"last_saved_at"`
	LastError   error        `json:"-"`
	Attempt     int          `json:"attempt"`

	// Category classifies LastError and Message is the text shown next to
	// the field. Both are empty without an error.
	Category save.Category `json:"category,omitempty"`
	Message  string        `json:"message,omitempty"`

	// RetryAt is when the next automatic retry is due, zero when none is
	// armed.
	RetryAt time.Time `json:"retry_at,omitzero"`

	// Retrying is set while an error is being retried automatically; the
	// failure is not final yet.
	Retrying bool `json:"retrying,omitempty"`

	// Terminal is set when automatic retries stopped and the user has to
	// act (ForceSave, a new edit, or Dismiss).
	Terminal bool `json:"terminal,omitempty"`
}

// FromState projects a field state to the subscriber view.
func FromState(st field.State) FieldUpdate {
	u := FieldUpdate{
		Key:         st.Key,
		Status:      st.Status,
		Generation:  st.Generation,
		LastSavedAt: st.LastSavedAt,
		LastError:   st.LastError,
		Attempt:     st.Attempt,
		Retrying:    st.Status == field.StatusError && !st.Terminal,
		Terminal:    st.Status == field.StatusError && st.Terminal,
	}
	u.Category, u.Message = describe(st.LastError)
	return u
}

// RetryIn returns how long until the next automatic retry at now, or 0.
func (u FieldUpdate) RetryIn(now time.Time) time.Duration {
	if u.RetryAt.IsZero() || !u.RetryAt.After(now) {
		return 0
	}
	return u.RetryAt.Sub(now)
}

func describe(err error) (save.Category, string) {
	if err == nil {
		return "", ""
	}
	c := save.CategoryOf(err)
	return c, c.Describe()
}

// RecordUpdate is the aggregate status of one record.
type RecordUpdate struct {
	RecordID    string       `json:"record_id"`
	Status      field.Status `json:"status"`
	LastSavedAt time.Time    `json:"last_saved_at"`
	LastError   error        `json:"-"`

	// Category and Message describe LastError.
	Category save.Category `json:"category,omitempty"`
	Message  string        `json:"message,omitempty"`

	// Pending counts fields that are scheduled or saving.
	Pending int `json:"pending"`
	// Failed counts fields in error.
	Failed int `json:"failed"`
}

// Aggregate derives the record status from its fields:
// error if any field is in error, else saving if any field is scheduled or
// saving, else saved if any field is saved, else idle.
//
// LastError is the error of the first failing field in states order and
// LastSavedAt the latest save across all fields.
func Aggregate(recordID string, states []field.State) RecordUpdate {
	u := RecordUpdate{RecordID: recordID, Status: field.StatusIdle}
	saved := false
	for _, st := range states {
		if st.LastSavedAt.After(u.LastSavedAt) {
			u.LastSavedAt = st.LastSavedAt
		}
		switch st.Status {
		case field.StatusError:
			u.Failed++
			if u.LastError == nil {
				u.LastError = st.LastError
			}
		case field.StatusScheduled, field.StatusSaving:
			u.Pending++
		case field.StatusSaved:
			saved = true
		}
	}

	switch {
	case u.Failed > 0:
		u.Status = field.StatusError
	case u.Pending > 0:
		u.Status = field.StatusSaving
	case saved:
		u.Status = field.StatusSaved
	}
	u.Category, u.Message = describe(u.LastError)
	return u
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func sameRecord(a, b RecordUpdate) bool {
	return a.RecordID == b.RecordID &&
		a.Status == b.Status &&
		a.LastSavedAt.Equal(b.LastSavedAt) &&
		errText(a.LastError) == errText(b.LastError) &&
		a.Pending == b.Pending &&
		a.Failed == b.Failed
}

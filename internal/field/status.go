package field

import "fmt"

// Status is the externally visible save status of a field.
type Status int

const (
	// StatusIdle means nothing is outstanding for the field.
	StatusIdle Status = iota
	// StatusScheduled means an edit is waiting for its debounce window.
	StatusScheduled
	// StatusSaving means a write is in flight.
	StatusSaving
	// StatusSaved means the last edit is durably stored.
	StatusSaved
	// StatusError means the last attempt failed (retrying or terminal).
	StatusError
)

var statusNames = [...]string{
	StatusIdle:      "idle",
	StatusScheduled: "scheduled",
	StatusSaving:    "saving",
	StatusSaved:     "saved",
	StatusError:     "error",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// ParseStatus converts a status name back into a Status.
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return StatusIdle, fmt.Errorf("unknown status %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

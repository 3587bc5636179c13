package retry

import "fmt"

// Phase is a field's position in the save state machine.
//
// Phase is finer than field.Status: a field waiting to retry is reported to
// subscribers as an error while internally it is still in a live chain.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseScheduled
	PhaseSaving
	PhaseSaved
	PhaseRetryWait
	PhaseTerminal
)

var phaseNames = [...]string{
	PhaseIdle:      "idle",
	PhaseScheduled: "scheduled",
	PhaseSaving:    "saving",
	PhaseSaved:     "saved",
	PhaseRetryWait: "retry-wait",
	PhaseTerminal:  "terminal",
}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

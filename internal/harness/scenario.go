package harness

import (
	"bytes"
	"os"
	"time"

	"gitlab.com/tozd/go/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/fieldsync/internal/config"
	"github.com/roach88/fieldsync/internal/save"
)

// Scenario drives one autosave session through a scripted sequence of
// edits, clock advances and write releases, then asserts on the trace.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Record is the record id the session edits. Default: "activity-1".
	Record string `yaml:"record,omitempty"`

	// Config tunes the session. Keys not given keep config.Default().
	Config *config.Config `yaml:"config,omitempty"`

	// Seed is loaded into the session before the first step, as if the
	// record had been read from the server.
	Seed map[string]any `yaml:"seed,omitempty"`

	// Steps run in order. The session loop is drained after each step.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and backend writes.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one scenario action. Exactly one field must be set.
type Step struct {
	Edit      *EditStep     `yaml:"edit,omitempty"`
	Advance   time.Duration `yaml:"advance,omitempty"`
	Release   *ReleaseStep  `yaml:"release,omitempty"`
	SaveNow   *[]string     `yaml:"save_now,omitempty"`
	ForceSave bool          `yaml:"force_save,omitempty"`
	Dismiss   string        `yaml:"dismiss,omitempty"`
	Reload    bool          `yaml:"reload,omitempty"`
	Dispose   bool          `yaml:"dispose,omitempty"`
	Expect    *ExpectStep   `yaml:"expect,omitempty"`
}

// EditStep is a local edit.
type EditStep struct {
	Field string `yaml:"field"`
	Value any    `yaml:"value"`
}

// ReleaseStep lets one held write reach the backend.
type ReleaseStep struct {
	Field string `yaml:"field"`

	// Error is the category the backend fails the write with. Empty means
	// the write succeeds.
	Error string `yaml:"error,omitempty"`

	// Newest releases the most recent held write for the field instead of
	// the oldest.
	Newest bool `yaml:"newest,omitempty"`
}

// ExpectStep checks a field's state at this point of the scenario. Only
// the keys given are checked.
type ExpectStep struct {
	Field      string `yaml:"field"`
	Status     string `yaml:"status,omitempty"`
	Generation *int64 `yaml:"generation,omitempty"`
	Attempt    *int   `yaml:"attempt,omitempty"`
	Terminal   *bool  `yaml:"terminal,omitempty"`
	Pending    any    `yaml:"pending,omitempty"`
	Confirmed  any    `yaml:"confirmed,omitempty"`
	Error      string `yaml:"error,omitempty"`

	// Writes is the number of backend writes observed for the field so far.
	Writes *int `yaml:"writes,omitempty"`

	// Held is the number of writes for the field not released yet.
	Held *int `yaml:"held,omitempty"`
}

// Assertion validates the final trace or the backend writes.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count, writes.
	Type string `yaml:"type"`

	// Line is a trace line fragment (trace_contains, trace_count).
	Line string `yaml:"line,omitempty"`

	// Lines are trace line fragments expected in this order (trace_order).
	Lines []string `yaml:"lines,omitempty"`

	// Field selects the backend writes counted (writes).
	Field string `yaml:"field,omitempty"`

	// Count is the expected number of matches (trace_count, writes).
	Count int `yaml:"count,omitempty"`

	// Values are the expected written values in order (writes, optional).
	Values []any `yaml:"values,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertWrites        = "writes"
)

// DefaultRecord is the record id used when a scenario names none.
const DefaultRecord = "activity-1"

// LoadScenario reads and parses a scenario YAML file.
// Unknown keys are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Errorf("read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	cfg := config.Default()
	scenario := Scenario{Config: &cfg}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, errors.Errorf("parse scenario: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, errors.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.Description == "" {
		return errors.New("description is required")
	}
	if len(s.Steps) == 0 {
		return errors.New("steps list is required and must be non-empty")
	}
	if s.Config != nil {
		if err := s.Config.Validate(); err != nil {
			return errors.Errorf("config: %w", err)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step Step) error {
	set := 0
	for _, on := range []bool{
		step.Edit != nil,
		step.Advance != 0,
		step.Release != nil,
		step.SaveNow != nil,
		step.ForceSave,
		step.Dismiss != "",
		step.Reload,
		step.Dispose,
		step.Expect != nil,
	} {
		if on {
			set++
		}
	}
	if set != 1 {
		return errors.Errorf("steps[%d]: exactly one action is required, got %d", i, set)
	}

	switch {
	case step.Edit != nil && step.Edit.Field == "":
		return errors.Errorf("steps[%d].edit: field is required", i)
	case step.Advance < 0:
		return errors.Errorf("steps[%d].advance: must not be negative", i)
	case step.Release != nil && step.Release.Field == "":
		return errors.Errorf("steps[%d].release: field is required", i)
	case step.Expect != nil && step.Expect.Field == "":
		return errors.Errorf("steps[%d].expect: field is required", i)
	}
	if step.Release != nil && step.Release.Error != "" {
		if _, ok := save.ParseCategory(step.Release.Error); !ok {
			return errors.Errorf("steps[%d].release: unknown error category %q", i, step.Release.Error)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(i int, a Assertion) error {
	switch a.Type {
	case "":
		return errors.Errorf("assertions[%d]: type is required", i)
	case AssertTraceContains:
		if a.Line == "" {
			return errors.Errorf("assertions[%d]: line is required for trace_contains", i)
		}
	case AssertTraceOrder:
		if len(a.Lines) == 0 {
			return errors.Errorf("assertions[%d]: lines list is required for trace_order", i)
		}
	case AssertTraceCount:
		if a.Line == "" {
			return errors.Errorf("assertions[%d]: line is required for trace_count", i)
		}
		if a.Count < 0 {
			return errors.Errorf("assertions[%d]: count must be non-negative for trace_count", i)
		}
	case AssertWrites:
		if a.Field == "" {
			return errors.Errorf("assertions[%d]: field is required for writes", i)
		}
	default:
		return errors.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
	}
	return nil
}

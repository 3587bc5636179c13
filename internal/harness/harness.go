package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/roach88/fieldsync/internal/autosave"
	"github.com/roach88/fieldsync/internal/config"
	"github.com/roach88/fieldsync/internal/save"
	"github.com/roach88/fieldsync/internal/status"
	"github.com/roach88/fieldsync/internal/testutil"
	"github.com/roach88/fieldsync/internal/value"
)

// SessionID is the id every scenario session runs under.
const SessionID = "scenario"

// Option configures a scenario run.
type Option func(*runner)

// WithLogger routes session logs to logger. Default: discarded.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *runner) {
		r.log = logger
	}
}

// runner executes one scenario. Time only moves when a step advances the
// fake clock and writes only reach the backend when a step releases them,
// so the trace is identical on every run.
type runner struct {
	scenario *Scenario
	log      zerolog.Logger
	clk      *testutil.FakeClock
	disp     *testutil.ManualDispatcher
	backend  *testutil.ScriptedBackend
	session  *autosave.Session
	start    time.Time
	disposed bool

	mu    sync.Mutex
	trace []TraceEvent
}

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Open a session on a fake clock with hand-released writes
//  2. Load the seed record, if any
//  3. Subscribe to every field the scenario touches and to the record
//  4. Execute steps, draining the session loop after each
//  5. Evaluate assertions
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := config.Default()
	if scenario.Config != nil {
		cfg = *scenario.Config
	}
	recordID := scenario.Record
	if recordID == "" {
		recordID = DefaultRecord
	}

	r := &runner{
		scenario: scenario,
		log:      zerolog.Nop(),
		clk:      testutil.NewFakeClock(time.Time{}),
		disp:     testutil.NewManualDispatcher(),
		backend:  testutil.NewScriptedBackend(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.start = r.clk.Now()

	sessionOpts := append(cfg.SessionOptions(),
		autosave.WithClock(r.clk),
		autosave.WithDispatcher(tracingDispatcher{r}),
		autosave.WithIDGenerator(autosave.NewFixedGenerator(SessionID)),
		autosave.WithLogger(r.log),
		autosave.WithDebugRegistry(cfg.DebugRegistry()),
	)
	session, err := autosave.Open(context.Background(), recordID, tracingBackend{r}, sessionOpts...)
	if err != nil {
		return nil, errors.Errorf("open session: %w", err)
	}
	r.session = session
	defer session.Dispose()

	ctx := context.Background()
	if scenario.Seed != nil {
		r.backend.Seed(recordID, scenario.Seed)
		if err := session.Load(ctx); err != nil {
			return nil, errors.Errorf("load seed: %w", err)
		}
	}

	for _, name := range scenario.fieldNames() {
		if _, err := session.OnFieldStatus(name, r.onField); err != nil {
			return nil, errors.Errorf("subscribe %s: %w", name, err)
		}
	}
	if _, err := session.OnRecordStatus(r.onRecord); err != nil {
		return nil, errors.Errorf("subscribe record: %w", err)
	}
	if err := session.Flush(ctx); err != nil {
		return nil, errors.Errorf("flush: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := r.execute(ctx, i, step, result); err != nil {
			return nil, errors.Errorf("step %d: %w", i, err)
		}
	}

	result.Trace = r.events()
	result.Fields = session.Fields()
	result.Writes = r.backend.Writes()
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (r *runner) execute(ctx context.Context, i int, step Step, result *Result) error {
	if step.Expect != nil {
		for _, msg := range r.check(*step.Expect) {
			result.AddError(fmt.Sprintf("steps[%d].expect %s: %s", i, step.Expect.Field, msg))
		}
		return nil
	}

	r.record(KindStep, describeStep(step))

	var err error
	switch {
	case step.Edit != nil:
		err = r.session.Edit(step.Edit.Field, step.Edit.Value)

	case step.Advance > 0:
		if r.disposed {
			r.clk.Advance(step.Advance)
		} else {
			r.clk.AdvanceWith(step.Advance, r.settle)
		}

	case step.Release != nil:
		rel := step.Release
		if rel.Error != "" {
			c, _ := save.ParseCategory(rel.Error)
			r.backend.Enqueue(rel.Field, save.NewError(c, "scripted "+rel.Error))
		}
		released := false
		if rel.Newest {
			released = r.disp.ReleaseNewest(rel.Field)
		} else {
			released = r.disp.Release(rel.Field)
		}
		if !released {
			result.AddError(fmt.Sprintf("steps[%d].release: no write held for %s", i, rel.Field))
		}

	case step.SaveNow != nil:
		err = r.session.SaveNow(*step.SaveNow...)

	case step.ForceSave:
		err = r.session.ForceSave()

	case step.Dismiss != "":
		err = r.session.Dismiss(step.Dismiss)

	case step.Reload:
		err = r.session.Reload(ctx)

	case step.Dispose:
		r.session.Dispose()
		r.disposed = true
	}

	if errors.Is(err, autosave.ErrDisposed) {
		r.record(KindStep, "rejected: session disposed")
		return nil
	}
	if err != nil {
		return err
	}
	if !r.disposed {
		return r.session.Flush(ctx)
	}
	return nil
}

// settle drains the session loop between fake timer callbacks.
func (r *runner) settle() {
	if err := r.session.Flush(context.Background()); err != nil && !errors.Is(err, autosave.ErrDisposed) {
		r.log.Error().Err(err).Msg("flush")
	}
}

func (r *runner) check(e ExpectStep) []string {
	var failures []string
	fail := func(format string, args ...any) {
		failures = append(failures, fmt.Sprintf(format, args...))
	}

	st, ok := r.session.State(e.Field)
	if !ok {
		return []string{"field does not exist"}
	}
	if e.Status != "" && st.Status.String() != e.Status {
		fail("status: expected %s, got %s", e.Status, st.Status)
	}
	if e.Generation != nil && st.Generation != *e.Generation {
		fail("generation: expected %d, got %d", *e.Generation, st.Generation)
	}
	if e.Attempt != nil && st.Attempt != *e.Attempt {
		fail("attempt: expected %d, got %d", *e.Attempt, st.Attempt)
	}
	if e.Terminal != nil && st.Terminal != *e.Terminal {
		fail("terminal: expected %t, got %t", *e.Terminal, st.Terminal)
	}
	if e.Pending != nil && (!st.HasPending || !value.Equal(st.Pending, e.Pending)) {
		fail("pending: expected %s, got %s", value.String(e.Pending), describeValue(st.HasPending, st.Pending))
	}
	if e.Confirmed != nil && (!st.HasConfirmed || !value.Equal(st.Confirmed, e.Confirmed)) {
		fail("confirmed: expected %s, got %s", value.String(e.Confirmed), describeValue(st.HasConfirmed, st.Confirmed))
	}
	if e.Error != "" && category(st.LastError) != e.Error {
		fail("error: expected %s, got %s", e.Error, category(st.LastError))
	}
	if e.Writes != nil {
		if n := len(r.backend.WritesFor(e.Field)); n != *e.Writes {
			fail("writes: expected %d, got %d", *e.Writes, n)
		}
	}
	if e.Held != nil {
		held := 0
		for _, req := range r.disp.Pending() {
			if req.Key.Field == e.Field {
				held++
			}
		}
		if held != *e.Held {
			fail("held: expected %d, got %d", *e.Held, held)
		}
	}
	return failures
}

func (r *runner) record(kind, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	at := r.clk.Now().Sub(r.start)
	r.trace = append(r.trace, TraceEvent{At: at, AtMS: at.Milliseconds(), Kind: kind, Text: text})
}

func (r *runner) events() []TraceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TraceEvent(nil), r.trace...)
}

func (r *runner) onField(u status.FieldUpdate) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s gen=%d", u.Key.Field, u.Status, u.Generation)
	if u.Attempt > 0 {
		fmt.Fprintf(&b, " attempt=%d", u.Attempt)
	}
	if u.Retrying {
		b.WriteString(" retrying")
	}
	if u.Terminal {
		b.WriteString(" terminal")
	}
	if u.Category != "" {
		fmt.Fprintf(&b, " err=%s", u.Category)
	}
	r.record(KindStatus, b.String())
}

func (r *runner) onRecord(u status.RecordUpdate) {
	r.record(KindRecord, fmt.Sprintf("%s pending=%d failed=%d", u.Status, u.Pending, u.Failed))
}

// tracingDispatcher records every write the session issues and holds it
// until a release step.
type tracingDispatcher struct {
	r *runner
}

func (d tracingDispatcher) Dispatch(req save.Request, run func()) {
	d.r.record(KindWrite, fmt.Sprintf("%s gen=%d attempt=%d %s",
		req.Key.Field, req.Generation, req.Attempt, value.String(req.Value)))
	d.r.disp.Dispatch(req, run)
}

// tracingBackend records how the scripted backend answered each write.
type tracingBackend struct {
	r *runner
}

func (b tracingBackend) WriteField(ctx context.Context, recordID, fieldName string, v any) error {
	err := b.r.backend.WriteField(ctx, recordID, fieldName, v)
	result := "ok"
	if err != nil {
		result = category(err)
	}
	b.r.record(KindResponse, fmt.Sprintf("%s %s %s", fieldName, value.String(v), result))
	return err
}

func (b tracingBackend) ReadRecord(ctx context.Context, recordID string) (map[string]any, error) {
	return b.r.backend.ReadRecord(ctx, recordID)
}

// fieldNames returns every field a scenario touches, sorted.
func (s *Scenario) fieldNames() []string {
	seen := map[string]bool{}
	for name := range s.Seed {
		seen[name] = true
	}
	for _, step := range s.Steps {
		switch {
		case step.Edit != nil:
			seen[step.Edit.Field] = true
		case step.Release != nil:
			seen[step.Release.Field] = true
		case step.Expect != nil:
			seen[step.Expect.Field] = true
		case step.Dismiss != "":
			seen[step.Dismiss] = true
		case step.SaveNow != nil:
			for _, name := range *step.SaveNow {
				seen[name] = true
			}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func describeStep(step Step) string {
	switch {
	case step.Edit != nil:
		return fmt.Sprintf("edit %s %s", step.Edit.Field, value.String(step.Edit.Value))
	case step.Advance > 0:
		return "advance " + step.Advance.String()
	case step.Release != nil:
		s := "release " + step.Release.Field
		if step.Release.Error != "" {
			s += " error=" + step.Release.Error
		}
		if step.Release.Newest {
			s += " newest"
		}
		return s
	case step.SaveNow != nil:
		if len(*step.SaveNow) == 0 {
			return "save_now"
		}
		return "save_now " + strings.Join(*step.SaveNow, ",")
	case step.ForceSave:
		return "force_save"
	case step.Dismiss != "":
		return "dismiss " + step.Dismiss
	case step.Reload:
		return "reload"
	case step.Dispose:
		return "dispose"
	}
	return "unknown"
}

func describeValue(ok bool, v any) string {
	if !ok {
		return "nothing"
	}
	return value.String(v)
}

func category(err error) string {
	if err == nil {
		return "none"
	}
	return string(save.Classify(err).Category)
}

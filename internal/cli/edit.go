package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/fieldsync/internal/autosave"
	"github.com/roach88/fieldsync/internal/debug"
	"github.com/roach88/fieldsync/internal/field"
	"github.com/roach88/fieldsync/internal/persist"
	"github.com/roach88/fieldsync/internal/save"
	"github.com/roach88/fieldsync/internal/status"
	"github.com/roach88/fieldsync/internal/store"
	"github.com/roach88/fieldsync/internal/value"
)

// settlePoll is how often edit checks whether its sessions have settled.
const settlePoll = 20 * time.Millisecond

// EditOptions holds flags for the edit command.
type EditOptions struct {
	*RootOptions
	Endpoint string
	Token    string
	Records  []string
	Wait     time.Duration
	Create   bool
	Debug    bool
	History  string
}

// Assignment is one field=value argument.
type Assignment struct {
	Field string
	Value any
}

// FieldReport is the final state of one edited field.
type FieldReport struct {
	Field      string `json:"field"`
	Status     string `json:"status"`
	Value      any    `json:"value"`
	Generation int64  `json:"generation"`
	Attempt    int    `json:"attempt"`
	Terminal   bool   `json:"terminal,omitempty"`
	Category   string `json:"category,omitempty"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
}

// RecordReport is the outcome of editing one record.
type RecordReport struct {
	RecordID string          `json:"record_id"`
	Status   string          `json:"status"`
	Fields   []FieldReport   `json:"fields"`
	Snapshot *debug.Snapshot `json:"snapshot,omitempty"`
}

// NewEditCommand creates the edit command.
func NewEditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "edit --record <id> <field=value>...",
		Short: "Edit record fields through an autosave session",
		Long: `Open an autosave session per record, apply the edits, save them
immediately and wait until every field has settled.

Values are parsed as JSON and fall back to a plain string, so
  budget=1500 tags='["a","b"]' title=Water
store a number, a list and a string. Several --record flags edit the
records concurrently, one session each.

Exits 1 if any field ends in error.

Example:
  fieldsync edit --endpoint http://localhost:8080 --record activity-1 title="Water supply"
  fieldsync edit --record a-1 --record a-2 status=active --history ./history.db`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Endpoint, "endpoint", "", "record backend base URL (default from config)")
	cmd.Flags().StringVar(&opts.Token, "token", "", "bearer token for the backend (default from config)")
	cmd.Flags().StringSliceVar(&opts.Records, "record", nil, "record ID to edit (repeatable, required)")
	cmd.Flags().DurationVar(&opts.Wait, "wait", 30*time.Second, "how long to wait for fields to settle")
	cmd.Flags().BoolVar(&opts.Create, "create", false, "create the record if it does not exist")
	cmd.Flags().BoolVar(&opts.Debug, "debug", false, "include the session debug snapshot")
	cmd.Flags().StringVar(&opts.History, "history", "", "SQLite database to log save outcomes to")
	_ = cmd.MarkFlagRequired("record")

	return cmd
}

// ParseAssignments parses field=value arguments. Values that are not
// valid JSON are taken as strings.
func ParseAssignments(args []string) ([]Assignment, error) {
	out := make([]Assignment, 0, len(args))
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, errors.Errorf("invalid assignment %q: expected field=value", arg)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		out = append(out, Assignment{Field: name, Value: v})
	}
	return out, nil
}

func runEdit(opts *EditOptions, args []string, cmd *cobra.Command) error {
	out := formatter(opts.RootOptions, cmd)
	cfg := opts.Config

	assignments, err := ParseAssignments(args)
	if err != nil {
		return WrapExitError(ExitCommandError, "bad arguments", err)
	}
	endpoint := firstNonEmpty(opts.Endpoint, cfg.Endpoint)
	if endpoint == "" {
		return NewExitError(ExitCommandError, "no endpoint: pass --endpoint or set endpoint in the config")
	}
	backend := persist.NewHTTPBackend(endpoint, persist.WithToken(firstNonEmpty(opts.Token, cfg.Token)))

	var regOpts []debug.Option
	regOpts = append(regOpts, debug.WithLogger(opts.Logger))
	if opts.History != "" {
		st, err := store.Open(opts.History)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open history database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				opts.Logger.Error().Err(closeErr).Msg("error closing history database")
			}
		}()
		regOpts = append(regOpts, debug.WithSink(st))
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Wait)
	defer cancel()

	reports := make([]RecordReport, len(opts.Records))
	g, gctx := errgroup.WithContext(ctx)
	for i, recordID := range opts.Records {
		i, recordID := i, recordID
		g.Go(func() error {
			ed := &recordEditor{
				opts:     opts,
				backend:  backend,
				recordID: recordID,
				log:      opts.Logger.With().Str("record", recordID).Logger(),
			}
			report, err := ed.run(gctx, assignments, regOpts)
			if err != nil {
				return errors.Errorf("record %s: %w", recordID, err)
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		_ = out.Error(CodeBackend, err.Error(), nil)
		return WrapExitError(ExitCommandError, "edit failed", err)
	}

	if err := out.Success(reports, renderReports(reports)); err != nil {
		return err
	}
	for _, r := range reports {
		for _, f := range r.Fields {
			if f.Status == field.StatusError.String() {
				return NewExitError(ExitFailure, fmt.Sprintf("field %s of %s did not save", f.Field, r.RecordID))
			}
		}
	}
	return nil
}

type recordEditor struct {
	opts     *EditOptions
	backend  *persist.HTTPBackend
	recordID string
	log      zerolog.Logger
}

func (e *recordEditor) run(ctx context.Context, assignments []Assignment, regOpts []debug.Option) (RecordReport, error) {
	reg := e.opts.Config.DebugRegistry(regOpts...)
	if e.opts.Debug || e.opts.History != "" {
		reg.Enable()
	}

	sessionOpts := append(e.opts.Config.SessionOptions(),
		autosave.WithLogger(e.log),
		autosave.WithDebugRegistry(reg),
	)
	s, err := autosave.Open(ctx, e.recordID, e.backend, sessionOpts...)
	if err != nil {
		return RecordReport{}, errors.Errorf("open session: %w", err)
	}
	defer s.Dispose()

	if err := e.load(ctx, s); err != nil {
		return RecordReport{}, err
	}

	names := make([]string, 0, len(assignments))
	for _, a := range assignments {
		if _, err := s.OnFieldStatus(a.Field, e.logField); err != nil {
			return RecordReport{}, errors.Errorf("subscribe %s: %w", a.Field, err)
		}
		names = append(names, a.Field)
	}
	for _, a := range assignments {
		if err := s.Edit(a.Field, a.Value); err != nil {
			return RecordReport{}, errors.Errorf("edit %s: %w", a.Field, err)
		}
	}
	if err := s.SaveNow(); err != nil {
		return RecordReport{}, errors.Errorf("save: %w", err)
	}
	if err := s.Flush(ctx); err != nil {
		return RecordReport{}, errors.Errorf("flush: %w", err)
	}
	if err := waitSettled(ctx, s); err != nil {
		return RecordReport{}, err
	}

	report := RecordReport{
		RecordID: e.recordID,
		Status:   s.RecordStatus().Status.String(),
	}
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		st, _ := s.State(name)
		report.Fields = append(report.Fields, fieldReport(name, st))
	}
	if e.opts.Debug {
		snap := s.Snapshot()
		report.Snapshot = &snap
	}
	return report, nil
}

// load reads the record, creating it first when --create is set and the
// backend does not know it.
func (e *recordEditor) load(ctx context.Context, s *autosave.Session) error {
	err := s.Load(ctx)
	if err == nil {
		return nil
	}
	if !e.opts.Create || save.CategoryOf(err) != save.CategoryNotFound {
		return errors.Errorf("load: %w", err)
	}
	e.log.Info().Msg("record not found, creating")
	if err := e.backend.CreateRecord(ctx, e.recordID, nil); err != nil {
		return errors.Errorf("create: %w", err)
	}
	if err := s.Load(ctx); err != nil {
		return errors.Errorf("load: %w", err)
	}
	return nil
}

func (e *recordEditor) logField(u status.FieldUpdate) {
	ev := e.log.Debug()
	if u.Status == field.StatusError {
		ev = e.log.Warn().Err(u.LastError).
			Str("category", string(u.Category)).
			Str("reason", u.Message).
			Bool("terminal", u.Terminal)
		if u.Retrying {
			ev = ev.Dur("retry_in", u.RetryIn(time.Now()))
		}
	}
	ev.Str("field", u.Key.Field).
		Str("status", u.Status.String()).
		Int64("generation", u.Generation).
		Int("attempt", u.Attempt).
		Msg("field status")
}

func waitSettled(ctx context.Context, s *autosave.Session) error {
	ticker := time.NewTicker(settlePoll)
	defer ticker.Stop()
	for !s.Settled() {
		select {
		case <-ctx.Done():
			return errors.Errorf("waiting for fields to settle: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

func fieldReport(name string, st field.State) FieldReport {
	r := FieldReport{
		Field:      name,
		Status:     st.Status.String(),
		Value:      st.Confirmed,
		Generation: st.Generation,
		Attempt:    st.Attempt,
		Terminal:   st.Terminal,
	}
	if st.HasPending {
		r.Value = st.Pending
	}
	if u := status.FromState(st); u.Category != "" {
		r.Error = st.LastError.Error()
		r.Category = string(u.Category)
		r.Message = u.Message
	}
	return r
}

func renderReports(reports []RecordReport) string {
	var b strings.Builder
	for _, r := range reports {
		fmt.Fprintf(&b, "%s: %s\n", r.RecordID, colorStatus(r.Status))
		for _, f := range r.Fields {
			fmt.Fprintf(&b, "  %-20s %s  %s", f.Field, colorStatus(f.Status), value.String(f.Value))
			if f.Error != "" {
				state := "retrying"
				if f.Terminal {
					state = "terminal"
				}
				fmt.Fprintf(&b, "  %s (%s, %s after %d attempts)", f.Message, f.Error, state, f.Attempt)
			}
			b.WriteByte('\n')
		}
		if r.Snapshot != nil {
			var sb strings.Builder
			if err := r.Snapshot.WriteJSON(&sb); err == nil {
				b.WriteString(sb.String())
			}
		}
	}
	return b.String()
}

func colorStatus(s string) string {
	switch s {
	case field.StatusSaved.String():
		return color.GreenString(s)
	case field.StatusError.String():
		return color.RedString(s)
	case field.StatusSaving.String(), field.StatusScheduled.String():
		return color.YellowString(s)
	default:
		return s
	}
}

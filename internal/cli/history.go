package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/save"
	"github.com/roach88/fieldsync/internal/store"
	"github.com/roach88/fieldsync/internal/value"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Record   string
	Field    string
	Failures bool
	Limit    int
}

// FailureSummary counts failed saves of one field.
type FailureSummary struct {
	RecordID     string `json:"record_id"`
	Field        string `json:"field"`
	Failures     int    `json:"failures"`
	Values       int    `json:"values"`
	LastCategory string `json:"last_category"`
}

// HistoryReport is the output of the history command.
type HistoryReport struct {
	Outcomes []save.Outcome   `json:"outcomes"`
	Failures []FailureSummary `json:"failures"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show logged save outcomes",
		Long: `Show the save outcomes recorded by edit --history, oldest first,
followed by failure counts per field.

Example:
  fieldsync history --db ./history.db
  fieldsync history --db ./history.db --record activity-1 --failures
  fieldsync history --db ./history.db --field title --limit 20`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.Record, "record", "", "only show this record")
	cmd.Flags().StringVar(&opts.Field, "field", "", "only show this field")
	cmd.Flags().BoolVar(&opts.Failures, "failures", false, "only show failed saves")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "show only the most recent N outcomes")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	out := formatter(opts.RootOptions, cmd)

	dbPath := firstNonEmpty(opts.Database, opts.Config.Database)
	if dbPath == "" {
		return NewExitError(ExitCommandError, "no database: pass --db or set database in the config")
	}
	if opts.Limit < 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--limit must not be negative, got %d", opts.Limit))
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			opts.Logger.Error().Err(closeErr).Msg("error closing database")
		}
	}()

	ctx := cmd.Context()
	outcomes, err := st.ReadOutcomes(ctx, store.OutcomeFilter{
		RecordID:     opts.Record,
		Field:        opts.Field,
		FailuresOnly: opts.Failures,
		Limit:        opts.Limit,
	})
	if err != nil {
		_ = out.Error(CodeStore, err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to read outcomes", err)
	}
	counts, err := st.FailureCounts(ctx, opts.Record)
	if err != nil {
		_ = out.Error(CodeStore, err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to count failures", err)
	}

	report := HistoryReport{Outcomes: outcomes, Failures: []FailureSummary{}}
	if report.Outcomes == nil {
		report.Outcomes = []save.Outcome{}
	}
	for _, c := range counts {
		if opts.Field != "" && c.Field != opts.Field {
			continue
		}
		report.Failures = append(report.Failures, FailureSummary{
			RecordID:     c.RecordID,
			Field:        c.Field,
			Failures:     c.Failures,
			Values:       c.Values,
			LastCategory: string(c.LastCategory),
		})
	}
	return out.Success(report, renderHistory(report))
}

func renderHistory(r HistoryReport) string {
	var b strings.Builder
	if len(r.Outcomes) == 0 {
		b.WriteString("No outcomes recorded.\n")
	}
	for _, o := range r.Outcomes {
		result := color.GreenString(o.Result.String())
		if !o.Succeeded() {
			result = color.RedString(o.Result.String())
		}
		fmt.Fprintf(&b, "%s  %-30s gen=%d attempt=%d %s %s",
			o.FinishedAt.Format("2006-01-02 15:04:05.000"),
			o.Key.String(), o.Generation, o.Attempt, result, value.String(o.Value))
		if o.Err != nil {
			fmt.Fprintf(&b, "  %s", o.Err.Error())
		}
		fmt.Fprintf(&b, "  (%s)\n", o.Duration())
	}
	if len(r.Failures) > 0 {
		b.WriteString("\nFailures by field:\n")
		for _, f := range r.Failures {
			fmt.Fprintf(&b, "  %s/%s  %s  last: %s  values: %d\n",
				f.RecordID, f.Field, color.RedString("%d", f.Failures), f.LastCategory, f.Values)
		}
	}
	return b.String()
}

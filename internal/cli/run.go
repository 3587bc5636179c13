package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"github.com/roach88/fieldsync/internal/harness"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Trace bool
}

// ScenarioReport is the result of one scenario file.
type ScenarioReport struct {
	File   string          `json:"file"`
	Name   string          `json:"name"`
	Pass   bool            `json:"pass"`
	Errors []string        `json:"errors,omitempty"`
	Trace  json.RawMessage `json:"trace,omitempty"`
	lines  []byte
}

// RunSummary aggregates every scenario run.
type RunSummary struct {
	Scenarios []ScenarioReport `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml|dir>...",
		Short: "Replay autosave scenarios deterministically",
		Long: `Replay YAML autosave scenarios on a fake clock with scripted
backend responses, then check their expectations and assertions.

Directories are searched for *.yaml files. With --trace the full event
trace of each scenario is printed.

Exits 1 if any scenario fails.

Example:
  fieldsync run ./scenarios
  fieldsync run --trace ./scenarios/retry.yaml
  fieldsync run --format json ./scenarios`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Trace, "trace", false, "print the event trace of each scenario")

	return cmd
}

func runScenarios(opts *RunOptions, paths []string, cmd *cobra.Command) error {
	out := formatter(opts.RootOptions, cmd)

	files, err := scenarioFiles(paths)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}
	if len(files) == 0 {
		return NewExitError(ExitCommandError, "no scenario files found")
	}

	var summary RunSummary
	for _, path := range files {
		report, err := runScenarioFile(opts, path)
		if err != nil {
			_ = out.Error(CodeScenario, err.Error(), map[string]string{"file": path})
			return WrapExitError(ExitCommandError, "scenario could not run", err)
		}
		if report.Pass {
			summary.Passed++
		} else {
			summary.Failed++
		}
		summary.Scenarios = append(summary.Scenarios, report)
	}

	if err := out.Success(summary, renderSummary(summary, opts.Trace)); err != nil {
		return err
	}
	if summary.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", summary.Failed, len(files)))
	}
	return nil
}

func runScenarioFile(opts *RunOptions, path string) (ScenarioReport, error) {
	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return ScenarioReport{}, err
	}
	opts.Logger.Debug().Str("file", path).Str("scenario", scenario.Name).Msg("running scenario")

	result, err := harness.Run(scenario, harness.WithLogger(opts.Logger))
	if err != nil {
		return ScenarioReport{}, errors.Errorf("run %s: %w", scenario.Name, err)
	}

	report := ScenarioReport{
		File:   path,
		Name:   scenario.Name,
		Pass:   result.Pass,
		Errors: result.Errors,
		lines:  harness.FormatText(result.Trace),
	}
	if opts.Trace {
		data, err := harness.FormatJSON(scenario.Name, result)
		if err != nil {
			return ScenarioReport{}, errors.Errorf("encode trace: %w", err)
		}
		report.Trace = data
	}
	return report, nil
}

// scenarioFiles expands directories to their *.yaml files, sorted.
func scenarioFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, errors.Errorf("stat %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(p, "*.yaml"))
		if err != nil {
			return nil, errors.Errorf("glob %s: %w", p, err)
		}
		sort.Strings(matches)
		files = append(files, matches...)
	}
	return files, nil
}

func renderSummary(summary RunSummary, trace bool) string {
	var b strings.Builder
	for _, r := range summary.Scenarios {
		mark := color.GreenString("PASS")
		if !r.Pass {
			mark = color.RedString("FAIL")
		}
		fmt.Fprintf(&b, "%s %s (%s)\n", mark, r.Name, r.File)
		if trace {
			for _, line := range strings.SplitAfter(string(r.lines), "\n") {
				if line != "" {
					b.WriteString("    " + line)
				}
			}
		}
		for _, e := range r.Errors {
			fmt.Fprintf(&b, "    %s\n", e)
		}
	}
	fmt.Fprintf(&b, "\n%d passed, %d failed\n", summary.Passed, summary.Failed)
	return b.String()
}

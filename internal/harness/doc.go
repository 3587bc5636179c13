// Package harness runs autosave scenarios deterministically.
//
// A scenario is a YAML file listing edits, fake clock advances and the
// release of held writes. The session runs on a fake clock with a
// dispatcher that holds every write until a step releases it, so the
// arrival order of concurrent responses is part of the scenario instead of
// a race. Every field and record status update, every dispatched write and
// every backend answer is recorded in a trace:
//
//	+0ms step edit title "A1"
//	+0ms status title scheduled gen=1
//	+1000ms write title gen=1 attempt=1 "A1"
//	+1000ms response title "A1" ok
//
// Traces are compared against golden files under testdata/golden with
// goldie; regenerate them with
//
//	go test ./internal/harness -update
//
// Expect steps check a field's state at a point of the scenario and
// assertions check the final trace and backend writes. Failures are
// collected in Result.Errors rather than aborting the run.
package harness

// Package schedule implements the Debounce/Coalesce Scheduler.
//
// Every edit restarts the field's debounce timer, so a burst of edits
// produces one expiry after the burst goes quiet. The scheduler also owns
// the per-field in-flight marker: while a write is outstanding further
// expiries only set a follow-up flag, and End reports that flag so the
// owner issues exactly one successor write.
//
// A fallback sweep fires at a fixed interval independent of the per-field
// timers. The owner uses it to pick up scheduled fields whose window has
// elapsed but whose timer expiry never arrived.
//
// The scheduler does not touch field state. Timer callbacks only report
// (key, token) pairs; the owner validates them with Fired on its own
// goroutine.
package schedule

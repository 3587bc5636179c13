// Package autosave is the Autosave Coordinator: one Session per open record.
//
// A Session owns a field store, a debounce scheduler, a retry controller,
// a status broadcaster and a persistence client, and wires them together
// behind Edit, SaveNow, ForceSave and Dispose.
//
// Concurrency model: every state mutation happens on the session's
// single event-loop goroutine. Public methods, timer expiries and network
// completions only enqueue events. Timer events carry a token so that an
// expiry superseded after it was queued is ignored; network completions
// carry the generation they were issued for and are applied only if that
// generation is still current.
//
// Thread-safety model:
//   - Edit, SaveNow, ForceSave, Dismiss, Load, Flush: safe from any goroutine
//   - State, Snapshot, RecordStatus: safe from any goroutine, read-only
//   - subscriber callbacks run on the event loop and must not block on the
//     session (no Flush or Dispose from inside a callback)
package autosave

// Package clock provides the time sources used by the autosave engine.
//
// Two notions of time live here:
//
//   - Clock: wall time plus cancellable one-shot timers. Debounce windows,
//     retry backoff and the fallback sweep all go through a Clock so tests
//     can swap in a manually advanced fake (see internal/testutil).
//   - Sequence: a monotonic logical counter. Every armed timer is stamped
//     with a token from a Sequence; a timer event whose token no longer
//     matches the armed one is ignored. Ordering NEVER depends on wall time.
package clock

// Package retry implements the Retry/Backoff Controller.
//
// A Policy decides whether a failed write is retried and how long to wait
// before the next attempt. A Controller owns the per-field retry timers and
// tracks each field's position in the save state machine:
//
//	idle → scheduled → saving → saved
//	                         ↘ retry-wait → saving (loop)
//	                         ↘ terminal
//
// Retry timers are identified by a token drawn from a logical sequence. When
// a timer fires, the owner must call Fired with the token it was handed; a
// timer that was cancelled or superseded after its callback was already
// queued is recognised and ignored.
package retry

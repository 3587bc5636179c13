// Package debug holds the opt-in diagnostics surface of an autosave session.
//
// A Registry is constructed explicitly and handed to the session that
// should report into it; there is no process-wide instance. While enabled
// it keeps a bounded ring buffer of recent save outcomes and optionally
// forwards each one to a durable Sink. Reading it never mutates engine
// state.
package debug

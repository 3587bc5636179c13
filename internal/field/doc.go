// Package field holds the authoritative in-memory state for every field of
// the record open in a form session.
//
// The Store is pure data: it performs no I/O, arms no timers and never
// blocks. Every mutation is synchronous and reports the new State to a
// Notifier so status can be fanned out to subscribers.
//
// # Generation Guard
//
// Each local edit increments the field's generation. A save outcome carries
// the generation it was issued for, and Confirm/Fail only apply it when that
// generation is still the field's current one. A response for an older
// generation is dropped silently: a newer edit superseded it and a follow-up
// save is already scheduled. This is what lets a save run while the user
// keeps typing without ever moving the confirmed value backwards.
//
// # Ownership
//
// Only the autosave session's event loop mutates a Store. Reads (Get,
// Snapshot) are safe from any goroutine.
package field

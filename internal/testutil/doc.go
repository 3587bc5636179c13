// Package testutil provides deterministic stand-ins for time, write
// dispatch, and the remote record store.
package testutil

package autosave

import "gitlab.com/tozd/go/errors"

var (
	// ErrDisposed is returned by every session method after Dispose.
	ErrDisposed = errors.Base("session disposed")

	// ErrInvalidSession is returned by Open for a missing record id or
	// backend.
	ErrInvalidSession = errors.Base("invalid session")
)

package save

import (
	"context"
	"net"

	"gitlab.com/tozd/go/errors"
)

// Classify turns any error returned by a backend into an *Error.
//
// Already classified errors are returned as is. Otherwise:
//   - context.Canceled            -> canceled
//   - context.DeadlineExceeded    -> timeout
//   - net.Error reporting Timeout -> timeout
//   - anything else               -> network
//
// Backends that can tell a payload rejection from a transport failure must
// return an *Error themselves; an unknown error is assumed to be transport.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	if se, ok := As(err); ok {
		return se
	}

	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Category: CategoryCanceled, Message: "write canceled", Cause: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Category: CategoryTimeout, Message: "write timed out", Cause: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Category: CategoryTimeout, Message: err.Error(), Cause: err}
	}
	return &Error{Category: CategoryNetwork, Message: err.Error(), Cause: err}
}

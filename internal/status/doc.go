// Package status fans field and record status out to subscribers.
//
// Updates are delivered synchronously, in publish order, on the publishing
// goroutine. A field subscriber never observes a generation lower than one
// it has already seen, so a late confirmation of an older edit can never
// replace a newer pending edit on screen.
package status

package autosave

import "github.com/roach88/fieldsync/internal/save"

// Dispatcher runs field writes off the event loop.
//
// Dispatch is called on the event loop and must not block. run performs
// the write and hands the outcome back to the loop.
type Dispatcher interface {
	Dispatch(req save.Request, run func())
}

// GoDispatcher runs every write on its own goroutine.
type GoDispatcher struct{}

// Dispatch starts run on a new goroutine.
func (GoDispatcher) Dispatch(_ save.Request, run func()) {
	go run()
}

package debug

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/roach88/fieldsync/internal/save"
)

// DefaultSize is the ring buffer capacity used when none is given.
const DefaultSize = 200

// Sink persists outcomes beyond the ring buffer.
type Sink interface {
	AppendOutcome(ctx context.Context, o save.Outcome) error
}

// Option configures a Registry.
type Option func(*Registry)

// WithSink forwards every recorded outcome to s.
func WithSink(s Sink) Option {
	return func(r *Registry) {
		r.sink = s
	}
}

// WithLogger sets the logger used to report sink failures.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) {
		r.log = l
	}
}

// WithEnabled starts the registry enabled.
func WithEnabled() Option {
	return func(r *Registry) {
		r.enabled = true
	}
}

// Registry is a bounded log of save outcomes.
//
// Thread-safety: all methods are safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	enabled bool
	buf     []save.Outcome
	next    int
	full    bool
	total   int

	sink Sink
	log  zerolog.Logger
}

// NewRegistry creates a disabled registry holding at most size outcomes.
func NewRegistry(size int, opts ...Option) *Registry {
	if size <= 0 {
		size = DefaultSize
	}
	r := &Registry{
		buf: make([]save.Outcome, size),
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Enable starts recording.
func (r *Registry) Enable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = true
}

// Disable stops recording. Buffered outcomes are kept.
func (r *Registry) Disable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = false
}

// Enabled reports whether outcomes are being recorded.
func (r *Registry) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// Record appends o when enabled, evicting the oldest entry when full, and
// forwards it to the sink. Sink errors are logged, never returned: the
// diagnostics surface must not affect saving.
func (r *Registry) Record(ctx context.Context, o save.Outcome) {
	r.mu.Lock()
	if !r.enabled {
		r.mu.Unlock()
		return
	}
	r.buf[r.next] = o
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.total++
	sink := r.sink
	r.mu.Unlock()

	if sink == nil {
		return
	}
	if err := sink.AppendOutcome(ctx, o); err != nil {
		r.log.Warn().Err(err).
			Str("field", o.Key.String()).
			Int64("generation", o.Generation).
			Msg("outcome sink failed")
	}
}

// Outcomes returns the buffered outcomes, oldest first.
func (r *Registry) Outcomes() []save.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]save.Outcome(nil), r.buf[:r.next]...)
	}
	out := make([]save.Outcome, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

// Len returns the number of buffered outcomes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// Total returns how many outcomes were recorded, including evicted ones.
func (r *Registry) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Cap returns the ring buffer capacity.
func (r *Registry) Cap() int {
	return len(r.buf)
}

// Reset empties the buffer.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.buf {
		r.buf[i] = save.Outcome{}
	}
	r.next = 0
	r.full = false
	r.total = 0
}

package autosave

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/roach88/fieldsync/internal/clock"
	"github.com/roach88/fieldsync/internal/debug"
	"github.com/roach88/fieldsync/internal/persist"
	"github.com/roach88/fieldsync/internal/retry"
	"github.com/roach88/fieldsync/internal/schedule"
)

// DefaultSweepInterval is how often scheduled fields are re-checked.
const DefaultSweepInterval = 5 * time.Second

type options struct {
	debounce       time.Duration
	sweepInterval  time.Duration
	policy         retry.Policy
	requestTimeout time.Duration
	clock          clock.Clock
	dispatcher     Dispatcher
	log            zerolog.Logger
	debug          *debug.Registry
	ids            IDGenerator
}

func defaultOptions() options {
	return options{
		debounce:       schedule.DefaultWindow,
		sweepInterval:  DefaultSweepInterval,
		policy:         retry.DefaultPolicy(),
		requestTimeout: persist.DefaultTimeout,
		clock:          clock.Real{},
		dispatcher:     GoDispatcher{},
		log:            zerolog.Nop(),
		ids:            UUIDv7Generator{},
	}
}

// Option configures a Session.
type Option func(*options)

// WithDebounce sets the quiet period after the last edit before a field is
// written. Default: 1s.
func WithDebounce(d time.Duration) Option {
	return func(o *options) {
		o.debounce = d
	}
}

// WithSweepInterval sets the fallback sweep period. Zero disables the sweep.
// Default: 5s.
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) {
		o.sweepInterval = d
	}
}

// WithRetryPolicy sets the retry policy. Default: retry.DefaultPolicy().
func WithRetryPolicy(p retry.Policy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithRequestTimeout bounds each field write. A timed-out write is a
// retryable failure. Default: 10s.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) {
		o.requestTimeout = d
	}
}

// WithClock replaces the wall clock, e.g. with a fake in tests.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithDispatcher replaces the goroutine-per-write dispatcher.
func WithDispatcher(d Dispatcher) Option {
	return func(o *options) {
		o.dispatcher = d
	}
}

// WithLogger sets the session logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// WithDebugRegistry attaches a caller-owned debug registry. Without one
// the session creates a private, disabled registry.
func WithDebugRegistry(r *debug.Registry) Option {
	return func(o *options) {
		o.debug = r
	}
}

// WithIDGenerator sets the session id source. Default: UUIDv7.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *options) {
		o.ids = g
	}
}

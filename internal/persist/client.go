package persist

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/roach88/fieldsync/internal/clock"
	"github.com/roach88/fieldsync/internal/save"
)

// DefaultTimeout bounds a single write when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// Backend is the remote field store: one write per field, one read per record.
//
// WriteField returns nil when the value is stored. Failures the backend can
// classify itself should be returned as *save.Error; anything else is
// treated as a transport failure.
type Backend interface {
	WriteField(ctx context.Context, recordID, field string, value any) error
	ReadRecord(ctx context.Context, recordID string) (map[string]any, error)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the per-write deadline. Zero disables it.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithClock sets the clock used to stamp outcomes.
func WithClock(clk clock.Clock) ClientOption {
	return func(c *Client) {
		c.clock = clk
	}
}

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.log = l
	}
}

// Client is the Persistence Client.
type Client struct {
	backend Backend
	timeout time.Duration
	clock   clock.Clock
	log     zerolog.Logger
}

// NewClient wraps a backend.
func NewClient(b Backend, opts ...ClientOption) *Client {
	c := &Client{
		backend: b,
		timeout: DefaultTimeout,
		clock:   clock.Real{},
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Save performs exactly one write for req and classifies the result.
//
// Cancelling ctx (session disposal) yields a canceled outcome; the deadline
// applied here yields a timeout outcome, which is retryable.
func (c *Client) Save(ctx context.Context, req save.Request) save.Outcome {
	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	started := c.clock.Now()
	err := c.backend.WriteField(callCtx, req.Key.RecordID, req.Key.Field, req.Value)
	finished := c.clock.Now()

	if err != nil && ctx.Err() != nil {
		// The session went away while the call was outstanding.
		err = &save.Error{Category: save.CategoryCanceled, Message: "session closed", Cause: err}
	}

	out := save.OutcomeFor(req, err, started, finished)
	ev := c.log.Debug().
		Str("field", req.Key.String()).
		Int64("generation", req.Generation).
		Int("attempt", req.Attempt).
		Str("result", out.Result.String()).
		Dur("took", out.Duration())
	if out.Err != nil {
		ev = ev.Str("category", string(out.Err.Category)).Str("error", out.Err.Message)
	}
	ev.Msg("field write finished")
	return out
}

// Load reads a record's fields. Errors are classified like writes.
func (c *Client) Load(ctx context.Context, recordID string) (map[string]any, error) {
	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	fields, err := c.backend.ReadRecord(callCtx, recordID)
	if err != nil {
		return nil, save.Classify(err)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	return fields, nil
}

package retry

import (
	"time"

	"gitlab.com/tozd/go/errors"

	"github.com/roach88/fieldsync/internal/save"
)

// Defaults used when no policy is configured.
const (
	DefaultMaxRetries = 3
	DefaultBase       = 500 * time.Millisecond
	DefaultMax        = 30 * time.Second
)

// Policy bounds automatic retries.
//
// MaxRetries counts write attempts in one save chain: with MaxRetries 3 a
// field is written at most three times before the chain turns terminal.
type Policy struct {
	MaxRetries int           `json:"max_retries" yaml:"max_retries"`
	Base       time.Duration `json:"backoff_base" yaml:"backoff_base"`
	Max        time.Duration `json:"backoff_max" yaml:"backoff_max"`
}

// DefaultPolicy returns 3 attempts, 500ms base, 30s cap.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: DefaultMaxRetries, Base: DefaultBase, Max: DefaultMax}
}

// Validate reports an unusable policy.
func (p Policy) Validate() error {
	switch {
	case p.MaxRetries < 0:
		return errors.Errorf("max retries must not be negative, got %d", p.MaxRetries)
	case p.Base <= 0:
		return errors.Errorf("backoff base must be positive, got %s", p.Base)
	case p.Max < p.Base:
		return errors.Errorf("backoff max %s is below base %s", p.Max, p.Base)
	}
	return nil
}

// Delay returns the wait before retry number attempt (1-based):
// Base * 2^(attempt-1), capped at Max.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		if (p.Max > 0 && d >= p.Max) || d > d<<1 {
			return p.Max
		}
		d <<= 1
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

// Exhausted reports whether a chain that has failed attempt times may not
// be retried again.
func (p Policy) Exhausted(attempt int) bool {
	return attempt >= p.MaxRetries
}

// Decision is the controller's verdict on a failed write.
type Decision struct {
	// Attempt is the failure count of the chain including this failure.
	Attempt int
	// Retry is true when another write will be issued after Delay.
	Retry bool
	Delay time.Duration
	// Terminal is true when no further automatic attempt will happen.
	Terminal bool
}

// Decide classifies a failure. attempt is the number of failures in the
// chain so far, including this one.
func (p Policy) Decide(attempt int, result save.Result) Decision {
	d := Decision{Attempt: attempt}
	switch {
	case result == save.ResultSuccess:
	case result == save.ResultTerminal || p.Exhausted(attempt):
		d.Terminal = true
	default:
		d.Retry = true
		d.Delay = p.Delay(attempt)
	}
	return d
}

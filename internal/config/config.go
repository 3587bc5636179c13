// Package config loads fieldsync settings from YAML.
package config

import (
	"io"
	"os"
	"time"

	"gitlab.com/tozd/go/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/fieldsync/internal/autosave"
	"github.com/roach88/fieldsync/internal/debug"
	"github.com/roach88/fieldsync/internal/persist"
	"github.com/roach88/fieldsync/internal/retry"
	"github.com/roach88/fieldsync/internal/schedule"
)

// DefaultListen is the address `fieldsync serve` binds by default.
const DefaultListen = ":8080"

// Config holds engine tuning and endpoint settings. Durations are written
// as Go duration strings ("750ms", "2s").
type Config struct {
	Debounce       time.Duration `yaml:"debounce"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	MaxRetries     int           `yaml:"max_retries"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	HistorySize    int           `yaml:"history_size"`
	Debug          bool          `yaml:"debug"`

	Endpoint string `yaml:"endpoint"`
	Token    string `yaml:"token"`
	Database string `yaml:"database"`
	Listen   string `yaml:"listen"`
	Schema   string `yaml:"schema"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Debounce:       schedule.DefaultWindow,
		SweepInterval:  autosave.DefaultSweepInterval,
		MaxRetries:     retry.DefaultMaxRetries,
		BackoffBase:    retry.DefaultBase,
		BackoffMax:     retry.DefaultMax,
		RequestTimeout: persist.DefaultTimeout,
		HistorySize:    debug.DefaultSize,
		Listen:         DefaultListen,
	}
}

// Load reads path over the defaults. Keys missing from the file keep
// their default value; unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports settings the engine cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Debounce <= 0:
		return errors.Errorf("debounce must be positive, got %s", c.Debounce)
	case c.SweepInterval < 0:
		return errors.Errorf("sweep_interval must not be negative, got %s", c.SweepInterval)
	case c.RequestTimeout <= 0:
		return errors.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	case c.HistorySize <= 0:
		return errors.Errorf("history_size must be positive, got %d", c.HistorySize)
	}
	return c.Policy().Validate()
}

// Policy returns the retry policy.
func (c Config) Policy() retry.Policy {
	return retry.Policy{MaxRetries: c.MaxRetries, Base: c.BackoffBase, Max: c.BackoffMax}
}

// SessionOptions maps the tuning settings to session options.
func (c Config) SessionOptions() []autosave.Option {
	return []autosave.Option{
		autosave.WithDebounce(c.Debounce),
		autosave.WithSweepInterval(c.SweepInterval),
		autosave.WithRetryPolicy(c.Policy()),
		autosave.WithRequestTimeout(c.RequestTimeout),
	}
}

// DebugRegistry creates a registry sized by history_size, enabled when
// debug is set.
func (c Config) DebugRegistry(opts ...debug.Option) *debug.Registry {
	if c.Debug {
		opts = append(opts, debug.WithEnabled())
	}
	return debug.NewRegistry(c.HistorySize, opts...)
}

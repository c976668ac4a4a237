package cascade

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// contextConfig holds mutable state during Context construction.
type contextConfig struct {
	origin     string
	newID      func() string
	now        func() time.Time
	logger     *slog.Logger
	registerer prometheus.Registerer
}

// Option is a function that configures a [Context] during construction.
//
// Option implements the functional options pattern, allowing optional
// configuration to be passed to [New] in a type-safe, extensible way.
// Options return an error if validation fails.
//
// Built-in options: [WithOrigin], [WithLogger], [WithRegisterer],
// [WithIDGenerator], [WithClock].
type Option func(*contextConfig) error

// WithOrigin sets the origin recorded for writes made with [Context.Update].
//
// The origin identifies the execution context performing writes, for example
// a service name or a page URL. Defaults to "<hostname>/<pid>".
//
// Returns an error if origin is empty.
func WithOrigin(origin string) Option {
	return func(cfg *contextConfig) error {
		if origin == "" {
			return errors.New("origin cannot be empty")
		}
		cfg.origin = origin
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the Context.
//
// The logger reports recovered callback panics. If not specified,
// [slog.Default] is used.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
//	ctx, err := cascade.New[string](cascade.WithLogger(logger))
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *contextConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithRegisterer enables Prometheus metrics for the Context, registering the
// collectors with reg.
//
// Each registry can back a single Context; [New] returns an error when the
// registry is reused. Metrics are disabled by default.
//
// Returns an error if reg is nil.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(cfg *contextConfig) error {
		if reg == nil {
			return errors.New("registerer cannot be nil")
		}
		cfg.registerer = reg
		return nil
	}
}

// WithIDGenerator replaces the version identifier generator.
//
// The generator must return a distinct value on every call; identifiers are
// never compared for ordering. Defaults to random UUIDs.
//
// Returns an error if gen is nil.
func WithIDGenerator(gen func() string) Option {
	return func(cfg *contextConfig) error {
		if gen == nil {
			return errors.New("id generator cannot be nil")
		}
		cfg.newID = gen
		return nil
	}
}

// WithClock replaces the clock used to timestamp writes. Defaults to
// [time.Now].
//
// Returns an error if now is nil.
func WithClock(now func() time.Time) Option {
	return func(cfg *contextConfig) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		cfg.now = now
		return nil
	}
}

// defaultOrigin describes the current process as "<hostname>/<pid>".
func defaultOrigin() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s/%d", host, os.Getpid())
}

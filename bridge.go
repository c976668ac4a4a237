package cascade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/jpalmerr/cascade/internal/seed"
	"github.com/jpalmerr/cascade/internal/server"
	"github.com/jpalmerr/cascade/internal/stream"
)

const defaultPort = 8080

// Bridge exposes a [Context] of JSON values to other processes over HTTP.
//
// A Bridge serves a REST API for reading and writing keys, and Server-Sent
// Events and WebSocket streams of writes filtered by key. WebSocket clients
// may also send writes, which lets a dev server or browser tab push changes
// into the context. Prometheus metrics are served at /metrics.
//
// The typical lifecycle is:
//
//	bridge, err := cascade.NewBridge(
//	    cascade.WithPort(7070),
//	    cascade.WithSeedFile("context.yaml"),
//	    cascade.WithSeedWatch(true),
//	)
//	if err != nil {
//	    slog.Error("failed to create bridge", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	bridge.Start(ctx) // blocks until ctx cancelled
//
// In-process code shares the same store through [Bridge.Context].
type Bridge struct {
	port       int
	seedFile   string
	watchSeed  bool
	seedValues seed.Values
	context    *Context[json.RawMessage]
	registry   *prometheus.Registry
	logger     *slog.Logger
}

// NewBridge creates a new [Bridge] with the given options.
//
// Defaults:
//   - Port: 8080
//   - No seed values or seed file
//
// Returns an error if an option is invalid, if seed watching is enabled
// without a seed file, or if inline seed values cannot be encoded as JSON.
func NewBridge(opts ...BridgeOption) (*Bridge, error) {
	cfg := &bridgeConfig{
		port: defaultPort,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.watchSeed && cfg.seedFile == "" {
		return nil, errors.New("seed watch requires a seed file")
	}

	values, err := seed.FromMap(cfg.seedValues)
	if err != nil {
		return nil, fmt.Errorf("invalid seed values: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ctxOpts := append(cfg.contextOptions, WithRegisterer(registry))
	c, err := New[json.RawMessage](ctxOpts...)
	if err != nil {
		return nil, err
	}

	return &Bridge{
		port:       cfg.port,
		seedFile:   cfg.seedFile,
		watchSeed:  cfg.watchSeed,
		seedValues: values,
		context:    c,
		registry:   registry,
		logger:     c.logger,
	}, nil
}

// Context returns the store served by the bridge.
func (b *Bridge) Context() *Context[json.RawMessage] {
	return b.context
}

// Port returns the configured HTTP port.
func (b *Bridge) Port() int {
	return b.port
}

// Start applies seed values, starts the HTTP server and, if enabled, watches
// the seed file.
//
// Start is a blocking call that runs until the provided context is cancelled.
// Returns nil on graceful shutdown. Returns an error if the seed file cannot
// be loaded, the HTTP server fails to start, or the seed watcher fails.
func (b *Bridge) Start(ctx context.Context) error {
	b.logger.Info("cascade bridge starting", "port", b.port, "origin", b.context.Origin())

	// check if context already cancelled
	if ctx.Err() != nil {
		return nil
	}

	// load the file before any write so a bad file leaves the store untouched
	var current seed.Values
	if b.seedFile != "" {
		values, err := seed.Load(b.seedFile)
		if err != nil {
			return fmt.Errorf("failed to load seed file: %w", err)
		}
		current = values
	}

	broker := stream.NewMemoryBroker()
	stopMirror := b.context.Observe(func(ev Event[json.RawMessage]) {
		broker.Publish(toRecord(ev))
	})
	defer stopMirror()

	b.apply("seed:inline", b.seedValues, b.seedValues.Keys())
	b.apply(seedOrigin(b.seedFile), current, current.Keys())

	g, gctx := errgroup.WithContext(ctx)

	httpServer := server.NewServer(contextSource{b.context}, broker, b.port, b.registry, b.context.metrics, b.logger)
	if err := httpServer.Start(gctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	b.logger.Info("bridge available", "url", fmt.Sprintf("http://localhost:%d", b.port))

	if b.watchSeed {
		g.Go(func() error {
			// current is only touched by this goroutine from here on. Watch
			// delivers the file once on start, so the diff also picks up
			// edits made since the load above.
			err := seed.Watch(gctx, b.seedFile, b.logger, func(next seed.Values) {
				b.apply(seedOrigin(b.seedFile), next, seed.Diff(current, next))
				current = next
			})
			if err != nil {
				return fmt.Errorf("seed watcher: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	b.logger.Info("cascade bridge stopped")
	return nil
}

// apply writes the given keys of values to the context on behalf of origin.
func (b *Bridge) apply(origin string, values seed.Values, keys []string) {
	for _, k := range keys {
		b.context.UpdateFrom(origin, k, values[k])
	}
	if len(keys) > 0 {
		b.logger.Info("seed applied", "origin", origin, "keys", len(keys))
	}
}

func seedOrigin(path string) string {
	return "seed:" + path
}

// toRecord converts a store event to its wire representation.
func toRecord(ev Event[json.RawMessage]) stream.Record {
	return stream.Record{
		ID:        ev.ID,
		Key:       ev.Key,
		Value:     ev.Value,
		Timestamp: ev.Timestamp,
		Origin:    ev.Origin,
	}
}

// contextSource adapts a Context to the server's Source interface.
type contextSource struct {
	ctx *Context[json.RawMessage]
}

func (s contextSource) Get(key string) (stream.Record, bool) {
	ev, ok := s.ctx.Get(key)
	if !ok {
		return stream.Record{}, false
	}
	return toRecord(ev), true
}

func (s contextSource) All() []stream.Record {
	entries := s.ctx.Entries()
	records := make([]stream.Record, len(entries))
	for i, ev := range entries {
		records[i] = toRecord(ev)
	}
	return records
}

func (s contextSource) Update(origin, key string, value json.RawMessage) stream.Record {
	return toRecord(s.ctx.UpdateFrom(origin, key, value))
}

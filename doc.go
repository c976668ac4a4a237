// Package cascade provides a keyed publish/subscribe context store.
//
// A [Context] holds the latest value written under each string key and
// notifies the callbacks subscribed to that key whenever it is written.
// Every write is recorded as an [Event] carrying a fresh version identifier,
// the origin of the writer and a timestamp. It is intended for sharing
// ambient state (the current user, a theme, feature flags) between
// components that should not know about each other.
//
// # Quick Start
//
//	ctx, _ := cascade.New[string]()
//
//	cancel := ctx.Subscribe("theme", func(theme string) {
//	    fmt.Println("theme is now", theme)
//	})
//	defer cancel()
//
//	ctx.Update("theme", "dark") // prints "theme is now dark"
//
// Callbacks run synchronously, in registration order, before Update returns.
// A callback may itself update the context. The nested write is delivered to
// every subscriber before the outer pass continues, and subscribers that
// already saw the newer value are skipped by the outer pass, so no
// subscriber ever observes a key going back to an older value. A panicking
// callback is recovered and logged; the remaining subscribers still run.
//
// # Configuration
//
// Context uses the functional options pattern for configuration:
//
//	ctx, err := cascade.New[json.RawMessage](
//	    cascade.WithOrigin("settings-panel"),
//	    cascade.WithLogger(logger),
//	    cascade.WithRegisterer(prometheus.DefaultRegisterer),
//	)
//
// # Bindings
//
// A [Binding] keeps a local copy of one key and can be moved to another key
// with [Binding.Rebind], which cancels the previous subscription first.
//
// # Bridge
//
// A [Bridge] serves a Context of JSON values over HTTP: a REST API, Server-Sent
// Events and WebSocket streams filtered by key, and Prometheus metrics. Other
// processes and browser tabs use it to share one context. The bridge can be
// seeded from inline values and a YAML or JSON file that is optionally
// watched for changes.
//
// # Architecture
//
// Cascade consists of several internal packages (under internal/):
//
//   - internal/stream: Key-filtered fan-out of context writes to network clients
//   - internal/server: HTTP server with REST, Server-Sent Events and WebSockets
//   - internal/seed: Seed file parsing and watching
//   - internal/metrics: Prometheus collectors
//
// The internal packages are not part of the public API and may change
// without notice.
package cascade

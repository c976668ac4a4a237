// Package metrics defines the Prometheus collectors exported by Cascade.
//
// A [Metrics] value is created per registry with [New]. A nil *Metrics is a
// valid no-op recorder, so callers never need to check whether metrics are
// enabled before recording.
//
// Users of the cascade library should not need to interact with this package
// directly. Metrics are enabled with [cascade.WithRegisterer].
package metrics

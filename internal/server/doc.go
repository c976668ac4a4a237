// Package server provides the HTTP bridge between a Cascade context and
// external processes.
//
// This package is internal to Cascade and handles all HTTP concerns:
//
//   - REST API: read every key at "/api/context", read or write one key at
//     "/api/context/{key}"
//   - Server-Sent Events: live records at "/api/sse"
//   - WebSocket: live records plus client writes at "/ws"
//   - Operations: "/healthz" and Prometheus metrics at "/metrics"
//
// Streaming endpoints accept repeated "key" query parameters to restrict the
// stream to those keys, and "replay=true" to receive the current value of each
// matching key before live records.
//
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
//
// Users of the cascade library should not need to interact with this package
// directly. The server is started by [cascade.Bridge.Start].
package server

// Package stream fans context update records out to network clients.
//
// This package is internal to Cascade. The bridge mirrors every write made to
// a [cascade.Context] into a [Stream], and the HTTP server hands each
// connected SSE or WebSocket client its own subscription channel.
//
// The main components are:
//
//   - [Stream]: Interface defining publish and subscription operations
//   - [MemoryBroker]: In-memory implementation of Stream
//   - [Record]: Wire representation of one context write
//
// The broker is designed for concurrent access with proper synchronization.
// Subscribers receive records via channels with non-blocking sends (slow
// subscribers will miss records rather than block the writer).
package stream

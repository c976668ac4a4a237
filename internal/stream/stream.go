package stream

import (
	"encoding/json"
	"time"
)

// Record represents one context write on the wire.
//
// Record is the transport representation of a cascade.Event, optimized for
// JSON serialization (used by the REST API, SSE and WebSocket). Values are
// carried as raw JSON so the broker never interprets them.
type Record struct {
	// ID is the version identifier of the write.
	ID string `json:"id"`

	// Key is the key that was written.
	Key string `json:"key"`

	// Value is the written value as JSON.
	Value json.RawMessage `json:"value"`

	// Timestamp is the wall-clock time of the write.
	Timestamp time.Time `json:"timestamp"`

	// Origin describes the writer.
	Origin string `json:"origin"`
}

// Stream defines the interface for publishing and subscribing to records.
//
// Stream implementations must be safe for concurrent access.
type Stream interface {
	// Publish delivers a record to every subscriber interested in its key.
	Publish(r Record)

	// Subscribe returns a channel that receives records for the given keys,
	// or for every key when none are given.
	// The returned channel has a buffer; slow consumers may miss records.
	// Caller must call Unsubscribe when done to prevent resource leaks.
	Subscribe(keys ...string) <-chan Record

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan Record)
}

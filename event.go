package cascade

import "time"

// Event is a single recorded write to a [Context].
//
// The last Event for each key is the key's current entry: [Context.Get]
// returns it and observers registered with [Context.Observe] receive every
// Event as it is recorded.
type Event[T any] struct {
	// ID is the version identifier generated for this write. It identifies
	// the write and must not be compared for ordering.
	ID string

	// Key is the key that was written.
	Key string

	// Value is the written value. It is shared with the writer, not copied.
	Value T

	// Timestamp is the wall-clock time of the write.
	Timestamp time.Time

	// Origin describes the execution context that performed the write.
	Origin string

	// seq orders writes within one Context.
	seq uint64
}

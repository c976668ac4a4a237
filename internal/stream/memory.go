package stream

import (
	"sync"
)

// subscriberBuffer is the per-subscriber channel capacity.
const subscriberBuffer = 100

// MemoryBroker is an in-memory implementation of [Stream].
//
// Each subscriber registers a key filter; an empty filter matches every key.
// Records are sent non-blocking; if a subscriber's buffer is full, the record
// is dropped for that subscriber to prevent blocking the writer.
type MemoryBroker struct {
	mu          sync.RWMutex
	subscribers map[chan Record]filter
}

// filter is the set of keys a subscriber wants. nil matches all keys.
type filter map[string]struct{}

func (f filter) matches(key string) bool {
	if f == nil {
		return true
	}
	_, ok := f[key]
	return ok
}

// NewMemoryBroker creates a new in-memory [Stream] implementation.
//
// The broker is immediately ready for use. No cleanup is required when done.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		subscribers: make(map[chan Record]filter),
	}
}

// Publish sends r to all subscribers whose filter matches r.Key.
//
// This is non-blocking: if a subscriber's channel buffer is full, the record
// is dropped for that subscriber rather than blocking the publisher.
func (b *MemoryBroker) Publish(r Record) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch, f := range b.subscribers {
		if !f.matches(r.Key) {
			continue
		}
		select {
		case ch <- r:
		default:
			// subscriber is slow, drop the record
		}
	}
}

// Subscribe creates a new subscription for keys and returns a channel for
// receiving records. With no keys, every record is delivered.
//
// The returned channel has a buffer of 100 records.
//
// Caller must call [MemoryBroker.Unsubscribe] when done to prevent resource leaks.
func (b *MemoryBroker) Subscribe(keys ...string) <-chan Record {
	var f filter
	if len(keys) > 0 {
		f = make(filter, len(keys))
		for _, k := range keys {
			f[k] = struct{}{}
		}
	}

	ch := make(chan Record, subscriberBuffer)

	b.mu.Lock()
	b.subscribers[ch] = f
	b.mu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
//
// After calling Unsubscribe, the channel will be closed and no further
// records will be sent. Safe to call multiple times or with an unknown channel.
func (b *MemoryBroker) Unsubscribe(ch <-chan Record) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// map keys are bidirectional channels, so compare rather than index
	for subCh := range b.subscribers {
		if subCh == ch {
			delete(b.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// Count returns the number of active subscriptions.
func (b *MemoryBroker) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

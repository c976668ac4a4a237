package cascade

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/cascade/internal/metrics"
)

// Context is a keyed publish/subscribe store.
//
// Context holds the last written value for each key and notifies callbacks
// registered for that key whenever it is written. Each write is assigned a
// fresh version identifier and recorded as an [Event].
//
// A Context is created with [New] and is safe for concurrent use. Callbacks
// run synchronously on the goroutine calling [Context.Update], in
// registration order, and complete before Update returns. No lock is held
// while callbacks run, so a callback may call Update, Subscribe or a cancel
// function.
//
// The zero value is not usable; always construct with [New].
type Context[T any] struct {
	mu        sync.RWMutex
	entries   map[string]Event[T]
	subs      map[string][]*subscription[T]
	observers []*subscription[T]
	seq       uint64

	origin  string
	newID   func() string
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates an empty [Context] with the given options.
//
// Defaults:
//   - Origin: "<hostname>/<pid>" of the current process
//   - Version identifiers: random UUIDs
//   - Logger: [slog.Default]
//   - Metrics: disabled
//
// Returns an error if any option is invalid or if the metrics registerer
// already holds the collectors of another Context.
//
// Example:
//
//	ctx, err := cascade.New[string](cascade.WithOrigin("settings-panel"))
//	if err != nil {
//	    return err
//	}
//	cancel := ctx.Subscribe("user.name", func(name string) {
//	    fmt.Println("hello", name)
//	})
//	defer cancel()
//	ctx.Update("user.name", "Alice")
func New[T any](opts ...Option) (*Context[T], error) {
	cfg := &contextConfig{
		origin: defaultOrigin(),
		newID:  uuid.NewString,
		now:    time.Now,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	m, err := metrics.New(cfg.registerer)
	if err != nil {
		return nil, err
	}

	return &Context[T]{
		entries: make(map[string]Event[T]),
		subs:    make(map[string][]*subscription[T]),
		origin:  cfg.origin,
		newID:   cfg.newID,
		now:     cfg.now,
		logger:  logger,
		metrics: m,
	}, nil
}

// Origin returns the origin recorded by [Context.Update].
func (c *Context[T]) Origin() string {
	return c.origin
}

// Update stores value under key and notifies the key's subscribers.
//
// The write is recorded with a fresh version identifier, the current time and
// the Context's origin. Every callback subscribed to key, followed by every
// observer, is invoked before Update returns. Subscribers of other keys are
// not invoked.
//
// value is stored by reference; mutating it after the call is not detected.
func (c *Context[T]) Update(key string, value T) {
	c.UpdateFrom(c.origin, key, value)
}

// UpdateFrom is [Context.Update] with an explicit origin. It returns the
// recorded [Event].
//
// Bridges use UpdateFrom to attribute writes to the remote client that made
// them.
func (c *Context[T]) UpdateFrom(origin, key string, value T) Event[T] {
	c.mu.Lock()
	c.seq++
	ev := Event[T]{
		ID:        c.newID(),
		Key:       key,
		Value:     value,
		Timestamp: c.now(),
		Origin:    origin,
		seq:       c.seq,
	}
	c.entries[key] = ev
	// subscriber lists are copy-on-write, so these are stable snapshots
	targets := c.subs[key]
	observers := c.observers
	c.mu.Unlock()

	c.metrics.Updated()

	for _, s := range targets {
		c.deliver(s, ev)
	}
	for _, o := range observers {
		c.deliver(o, ev)
	}
	return ev
}

// Subscribe registers callback to be invoked with the new value on every
// future [Context.Update] of key.
//
// The current value is not replayed. The returned function cancels this
// registration only; it is safe to call more than once. Once it returns, no
// later update invokes callback. Subscribing the same callback twice creates
// two independent registrations.
//
// A nil callback is ignored and a no-op cancel function is returned.
func (c *Context[T]) Subscribe(key string, callback func(T)) (cancel func()) {
	if callback == nil {
		return func() {}
	}

	s := &subscription[T]{
		key: key,
		fn:  func(ev Event[T]) { callback(ev.Value) },
	}

	c.mu.Lock()
	// Clip forces append to copy so snapshots held by in-flight passes never change
	c.subs[key] = append(slices.Clip(c.subs[key]), s)
	c.mu.Unlock()
	c.metrics.Subscribed(1)

	return c.cancelFunc(s)
}

// Observe registers callback to receive every [Event] recorded by the
// Context, for all keys.
//
// Observers run after the key's subscribers. Cancellation follows the same
// rules as [Context.Subscribe]. A nil callback is ignored.
func (c *Context[T]) Observe(callback func(Event[T])) (cancel func()) {
	if callback == nil {
		return func() {}
	}

	s := &subscription[T]{
		all: true,
		fn:  callback,
	}

	c.mu.Lock()
	c.observers = append(slices.Clip(c.observers), s)
	c.mu.Unlock()
	c.metrics.Subscribed(1)

	return c.cancelFunc(s)
}

// Get returns the last [Event] recorded for key.
//
// The boolean is false if key has never been written.
func (c *Context[T]) Get(key string) (Event[T], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ev, ok := c.entries[key]
	return ev, ok
}

// Keys returns every key that has been written, sorted.
func (c *Context[T]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Entries returns the current [Event] of every key, sorted by key.
//
// The returned slice is a copy; values are shared with the store.
func (c *Context[T]) Entries() []Event[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := make([]Event[T], 0, len(c.entries))
	for _, ev := range c.entries {
		entries = append(entries, ev)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key < entries[j].Key
	})
	return entries
}

// Len returns the number of keys that have been written.
func (c *Context[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// cancelFunc returns an idempotent function that deactivates s and removes
// it from the subscriber list it was added to.
func (c *Context[T]) cancelFunc(s *subscription[T]) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			s.deactivate()

			c.mu.Lock()
			if s.all {
				c.observers = without(c.observers, s)
			} else {
				remaining := without(c.subs[s.key], s)
				if len(remaining) == 0 {
					delete(c.subs, s.key)
				} else {
					c.subs[s.key] = remaining
				}
			}
			c.mu.Unlock()
			c.metrics.Subscribed(-1)
		})
	}
}

// deliver invokes s for ev unless s was cancelled or has already seen a newer
// write to the same key.
func (c *Context[T]) deliver(s *subscription[T], ev Event[T]) {
	if !s.advance(ev) {
		return
	}
	c.metrics.Delivered()
	c.invokeSafe(s, ev)
}

// invokeSafe calls the subscription callback with panic recovery.
// Panics are logged with a correlation ID and do not stop the pass.
func (c *Context[T]) invokeSafe(s *subscription[T], ev Event[T]) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			c.metrics.Panicked()
			c.logger.Error("context callback panicked",
				"correlation_id", correlationID,
				"key", ev.Key,
				"version", ev.ID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	s.fn(ev)
}

// subscription is one registered callback. Keyed subscriptions match a single
// key; observers (all == true) match every key.
type subscription[T any] struct {
	key string
	all bool
	fn  func(Event[T])

	mu        sync.Mutex
	cancelled bool
	// delivered is the sequence of the newest event handed to fn, per key
	delivered map[string]uint64
}

// advance reports whether ev should be delivered and, if so, records it as
// the newest event seen for its key.
func (s *subscription[T]) advance(ev Event[T]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled {
		return false
	}
	if ev.seq <= s.delivered[ev.Key] {
		return false
	}
	if s.delivered == nil {
		s.delivered = make(map[string]uint64, 1)
	}
	s.delivered[ev.Key] = ev.seq
	return true
}

func (s *subscription[T]) deactivate() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
}

// without returns a new slice holding list minus s, preserving order.
func without[T any](list []*subscription[T], s *subscription[T]) []*subscription[T] {
	out := make([]*subscription[T], 0, len(list))
	for _, item := range list {
		if item != s {
			out = append(out, item)
		}
	}
	return out
}

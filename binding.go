package cascade

import "sync"

// Binding keeps a local copy of one key's value in a [Context].
//
// A Binding starts with an initial value and follows the key from then on:
// every update of the key replaces the local value. [Binding.Rebind] moves the
// binding to another key, cancelling the previous subscription before
// subscribing to the new one. The local value is kept across rebinds until
// the new key is next written.
//
// Binding is safe for concurrent use.
type Binding[T any] struct {
	ctx *Context[T]

	mu     sync.RWMutex
	key    string
	value  T
	cancel func()
	closed bool
}

// Bind creates a [Binding] of key in ctx with the given initial value.
//
// The current value of key is not read; the Binding holds initial until the
// next update of key.
func Bind[T any](ctx *Context[T], key string, initial T) *Binding[T] {
	b := &Binding[T]{
		ctx:   ctx,
		key:   key,
		value: initial,
	}
	b.cancel = b.subscribe(key)
	return b
}

// Value returns the most recent value seen for the bound key.
func (b *Binding[T]) Value() T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.value
}

// Key returns the currently bound key.
func (b *Binding[T]) Key() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.key
}

// Set writes v to the bound key through the Context.
//
// The local value changes when the resulting notification arrives, which
// happens before Set returns.
func (b *Binding[T]) Set(v T) {
	b.ctx.Update(b.Key(), v)
}

// Rebind moves the Binding to key.
//
// The previous subscription is cancelled before the new one is made. Rebinding
// to the current key, or rebinding a closed Binding, does nothing.
func (b *Binding[T]) Rebind(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || key == b.key {
		return
	}
	// neither cancel nor Subscribe invoke callbacks, so holding mu is safe
	b.cancel()
	b.key = key
	b.cancel = b.subscribe(key)
}

// Close cancels the subscription. It is safe to call more than once.
func (b *Binding[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.cancel()
}

// subscribe follows key, ignoring notifications that arrive after the
// Binding has moved to another key.
func (b *Binding[T]) subscribe(key string) func() {
	return b.ctx.Subscribe(key, func(v T) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.key == key {
			b.value = v
		}
	})
}

// Package event provides a small typed publish/subscribe bus.
//
// Delivery is synchronous: [Bus.Publish] calls every subscribed handler in
// subscription order on the publishing goroutine. Handlers must therefore be
// fast and must not publish back into the same bus. Subscriptions have an
// explicit lifetime; the function returned by [Bus.Subscribe] removes the
// handler and is safe to call more than once.
package event

import (
	"slices"
	"sync"
)

// Handler receives published values.
type Handler[T any] func(T)

type subscription[T any] struct {
	id uint64
	fn Handler[T]
}

// Bus fans published values out to its subscribers. The zero value is ready
// to use. A Bus is safe for concurrent use.
type Bus[T any] struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription[T]
}

// Subscribe registers fn and returns a function that unregisters it.
func (b *Bus[T]) Subscribe(fn Handler[T]) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription[T]{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.subs = slices.DeleteFunc(b.subs, func(s subscription[T]) bool { return s.id == id })
		})
	}
}

// Publish delivers v to every current subscriber in subscription order.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	subs := slices.Clone(b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(v)
	}
}

// Len returns the number of active subscriptions.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

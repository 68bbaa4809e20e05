// Package eventbus provides an in-process publish/subscribe bus.
package eventbus

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the channel size given to each subscriber.
const DefaultBuffer = 64

type subscriber[T any] struct {
	ch    chan T
	match func(T) bool
}

func (s subscriber[T]) wants(e T) bool { return s.match == nil || s.match(e) }

// TypedBus fans events of type T out to subscribers. Publish never blocks:
// a subscriber whose buffer is full misses the event and the drop is
// counted.
type TypedBus[T any] struct {
	buffer  int
	dropped atomic.Uint64

	mu     sync.RWMutex
	subs   map[<-chan T]subscriber[T]
	closed bool
}

// NewTyped creates a bus. A non-positive buffer uses DefaultBuffer.
func NewTyped[T any](buffer int) *TypedBus[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &TypedBus[T]{buffer: buffer, subs: make(map[<-chan T]subscriber[T])}
}

// Publish delivers e to every matching subscriber and returns how many
// received it.
func (b *TypedBus[T]) Publish(e T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}
	n := 0
	for _, s := range b.subs {
		if !s.wants(e) {
			continue
		}
		select {
		case s.ch <- e:
			n++
		default:
			b.dropped.Add(1)
		}
	}
	return n
}

// Subscribe returns a channel receiving the events accepted by match, or
// every event when match is nil. On a closed bus the channel is closed.
func (b *TypedBus[T]) Subscribe(match func(T) bool) <-chan T {
	ch := make(chan T, b.buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[ch] = subscriber[T]{ch: ch, match: match}
	return ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *TypedBus[T]) Unsubscribe(sub <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(s.ch)
	}
}

// Subscribers returns the number of live subscriptions.
func (b *TypedBus[T]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped on full subscribers.
func (b *TypedBus[T]) Dropped() uint64 { return b.dropped.Load() }

// Close closes the bus and every subscriber channel. It is idempotent.
func (b *TypedBus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for k, s := range b.subs {
		close(s.ch)
		delete(b.subs, k)
	}
}

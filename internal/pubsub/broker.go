package pubsub

import "sync"

// subscriberBuffer is the per-subscriber channel capacity. Publish never
// blocks; a subscriber that falls this far behind loses events until it
// drains its channel.
const subscriberBuffer = 32

// Broker fans typed events out to any number of subscribers.
type Broker[T any] struct {
	mu     sync.RWMutex
	subs   map[chan T]struct{}
	closed bool
}

// NewBroker creates an empty broker.
func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{subs: make(map[chan T]struct{})}
}

// Subscribe returns a channel that receives every event published after the
// call. The channel is closed by Unsubscribe or Close.
func (b *Broker[T]) Subscribe() <-chan T {
	ch := make(chan T, subscriberBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
// Unknown channels are ignored.
func (b *Broker[T]) Unsubscribe(ch <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		if (<-chan T)(sub) == ch {
			delete(b.subs, sub)
			close(sub)
			return
		}
	}
}

// Publish delivers event to every subscriber without blocking.
func (b *Broker[T]) Publish(event T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		select {
		case sub <- event:
		default:
		}
	}
}

// Len reports the number of live subscribers.
func (b *Broker[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later subscriptions receive an
// already-closed channel and later publishes are dropped.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub)
	}
	b.subs = nil
}

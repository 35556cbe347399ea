// Package fanout delivers the latest value of something to any number of subscribers.
//
// Every subscriber channel has a buffer of one. A publish replaces an unread
// value instead of blocking, so slow readers only ever see the newest value.
package fanout

import "sync"

// Hub is a latest-value broadcaster. The zero value is ready to use.
type Hub[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	nextID int
	closed bool
}

// Subscribe registers a subscriber. When initial is non-nil it is delivered first.
// On a closed hub the channel carries initial (if any) and is already closed.
func (h *Hub[T]) Subscribe(initial *T) (<-chan T, func()) {
	ch := make(chan T, 1)
	if initial != nil {
		ch <- *initial
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	if h.subs == nil {
		h.subs = make(map[int]chan T)
	}
	h.nextID++
	id := h.nextID
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() { h.remove(id) })
	}
}

func (h *Hub[T]) remove(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// Publish offers v to every subscriber, replacing any value not yet read
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		offer(ch, v)
	}
}

// Close closes every subscriber channel; values already buffered stay readable
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

// Len returns the number of live subscribers
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func offer[T any](ch chan T, v T) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

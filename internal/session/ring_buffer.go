package session

import "sync"

// RingBuffer keeps the newest capacity values written to it, oldest
// first. It is safe for concurrent use.
type RingBuffer[T any] struct {
	mu    sync.RWMutex
	items []T
	start int // index of the oldest value
	n     int
}

// NewRingBuffer creates a buffer holding at most capacity values. A
// capacity below one is treated as one.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	return &RingBuffer[T]{items: make([]T, max(capacity, 1))}
}

// Write appends v, evicting the oldest value once full.
func (rb *RingBuffer[T]) Write(v T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.n < len(rb.items) {
		rb.items[(rb.start+rb.n)%len(rb.items)] = v
		rb.n++
		return
	}
	rb.items[rb.start] = v
	rb.start = (rb.start + 1) % len(rb.items)
}

// ReadAll returns a copy of the retained values, oldest first.
func (rb *RingBuffer[T]) ReadAll() []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	out := make([]T, rb.n)
	for i := range out {
		out[i] = rb.items[(rb.start+i)%len(rb.items)]
	}
	return out
}

// Last returns the newest value.
func (rb *RingBuffer[T]) Last() (T, bool) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var zero T
	if rb.n == 0 {
		return zero, false
	}
	return rb.items[(rb.start+rb.n-1)%len(rb.items)], true
}

// Len returns the number of retained values.
func (rb *RingBuffer[T]) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.n
}

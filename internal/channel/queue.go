package channel

import (
	"sync"

	"pm-assistant/internal/protocol"
)

// Queue is an unbounded FIFO of messages waiting for an open socket.
type Queue struct {
	mu    sync.Mutex
	items []protocol.OutboundMessage
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends a message to the tail.
func (q *Queue) Enqueue(msg protocol.OutboundMessage) {
	q.mu.Lock()
	q.items = append(q.items, msg)
	q.mu.Unlock()
}

// DrainInto hands every queued message to send in insertion order and
// returns how many were drained. The queue is emptied before the first
// send, so anything enqueued while draining waits for the next drain.
// Draining an empty queue is a no-op.
func (q *Queue) DrainInto(send func(protocol.OutboundMessage)) int {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()

	for _, msg := range items {
		send(msg)
	}
	return len(items)
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

package agent

import (
	"context"
	"sync"

	"github.com/hupe1980/atlasforge/core"
)

// Queue is an unbounded FIFO of inbound messages with a blocking receive.
// Next returns ok=false once the queue is closed or the context is done.
type Queue struct {
	mu     sync.Mutex
	items  []core.Message
	signal chan struct{}
	done   chan struct{}
	closed bool
}

// NewQueue creates an empty open queue.
func NewQueue() *Queue {
	return &Queue{signal: make(chan struct{}, 1), done: make(chan struct{})}
}

// Push appends msg. It reports false when the queue is already closed.
func (q *Queue) Push(msg core.Message) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Next blocks until a message is available, the queue is closed or ctx is done.
func (q *Queue) Next(ctx context.Context) (core.Message, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return core.Message{}, false
		}
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items[0] = core.Message{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return msg, true
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-q.done:
		case <-ctx.Done():
			return core.Message{}, false
		}
	}
}

// Close closes the queue and wakes every blocked Next. Pending messages are
// discarded. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	close(q.done)
}

// Len returns the number of pending messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

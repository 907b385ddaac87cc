// Package queue provides the unbounded FIFO that connects bar producers to the
// single rendering consumer.
//
// Put never blocks, so a producer reporting progress can never be stalled by a
// slow terminal. Get blocks while the queue is empty and honors context
// cancellation, which lets the consumer be stopped without a poison item.
package queue

import (
	"context"
	"fmt"
	"sync"
)

// Unbounded is a FIFO queue with no capacity limit. It is safe for concurrent
// use by any number of producers; Get is intended for a single consumer.
type Unbounded[T any] struct {
	mu    sync.Mutex
	items []T

	notify chan struct{} // 1-buffered wakeup token for the consumer
}

// NewUnbounded creates an empty queue.
func NewUnbounded[T any]() *Unbounded[T] {
	return &Unbounded[T]{notify: make(chan struct{}, 1)}
}

// Put appends item to the tail of the queue. It never blocks.
func (q *Unbounded[T]) Put(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	q.wake()
}

// TryGet pops the head of the queue without blocking.
func (q *Unbounded[T]) TryGet() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero // release reference for GC
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	} else {
		q.wake()
	}
	return item, true
}

// Get pops the head of the queue, blocking while it is empty. An item that
// is already queued is returned even if ctx is done.
func (q *Unbounded[T]) Get(ctx context.Context) (T, error) {
	var zero T
	for {
		if item, ok := q.TryGet(); ok {
			return item, nil
		}
		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-q.notify:
		}
	}
}

// Drain removes and returns every queued item.
func (q *Unbounded[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// Len reports the number of queued items.
func (q *Unbounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// wake leaves a token for the consumer unless one is already pending.
func (q *Unbounded[T]) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

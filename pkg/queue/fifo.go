package queue

import (
	"context"
	"sync"
)

// FIFO is an unbounded first-in first-out queue. Push never blocks.
type FIFO[T any] struct {
	mu     sync.Mutex
	items  []T
	signal chan struct{}
}

func NewFIFO[T any]() *FIFO[T] {
	return &FIFO[T]{signal: make(chan struct{}, 1)}
}

func (q *FIFO[T]) Push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.notify()
}

// TryPop removes the oldest item without waiting.
func (q *FIFO[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) > 0 {
		q.notify()
	}
	return v, true
}

// Pop waits until an item is available or ctx is done.
func (q *FIFO[T]) Pop(ctx context.Context) (T, error) {
	for {
		if v, ok := q.TryPop(); ok {
			return v, nil
		}
		select {
		case <-q.signal:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

func (q *FIFO[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *FIFO[T]) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

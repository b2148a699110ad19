package threadsafe

import (
	"sync"
	"time"
)

// Queue is a thread-safe FIFO queue implementation. Pop blocks up to a
// timeout when the queue is empty, so it can be consumed directly from
// synchronous test code while producers push from other goroutines.
type Queue[T any] struct {
	items []T
	mu    sync.Mutex
	cond  *sync.Cond
}

// NewQueue creates a new thread-safe queue.
func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an item to the tail of the queue and wakes one waiter.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, item)
	q.cond.Signal()
}

// Pop removes and returns the item at the head of the queue. If the
// queue is empty, Pop blocks up to timeout for an item to arrive. The
// second return value is false if the timeout elapsed with nothing
// queued. A timeout <= 0 polls without blocking.
func (q *Queue[T]) Pop(timeout time.Duration) (T, bool) {
	var zero T
	deadline := time.Now().Add(timeout)

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return zero, false
		}
		// sync.Cond has no timed wait; schedule our own wakeup at the
		// deadline and loop to re-check.
		timer := time.AfterFunc(remaining, q.cond.Broadcast)
		q.cond.Wait()
		timer.Stop()
	}

	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Len returns the number of items currently queued.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

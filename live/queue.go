package live

import "sync"

// Queue is a bounded FIFO that evicts its oldest entry instead of
// blocking when full. Safe for concurrent use.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	cap   int
}

// NewQueue creates a queue holding at most capacity entries.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}

	return &Queue[T]{
		items: make([]T, 0, capacity),
		cap:   capacity,
	}
}

// Push appends item, evicting the oldest entry when the queue is full.
// It reports whether an eviction happened.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := false
	if len(q.items) >= q.cap {
		copy(q.items, q.items[1:])
		q.items = q.items[:len(q.items)-1]
		evicted = true
	}

	q.items = append(q.items, item)

	return evicted
}

// Pop removes and returns the oldest entry.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}

	item := q.items[0]
	copy(q.items, q.items[1:])
	q.items[len(q.items)-1] = zero
	q.items = q.items[:len(q.items)-1]

	return item, true
}

// Len returns the number of queued entries.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

// Cap returns the configured capacity.
func (q *Queue[T]) Cap() int {
	return q.cap
}

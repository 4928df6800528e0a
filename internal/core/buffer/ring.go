package buffer

import (
	"sync"

	"github.com/emirpasic/gods/queues/circularbuffer"
)

// Ring is a fixed capacity buffer shared between the poller (writer) and any
// number of readers. Push evicts the oldest element once full. Readers always
// get copies.
type Ring[T any] struct {
	mu    sync.RWMutex
	queue *circularbuffer.Queue
	cap   int
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		queue: circularbuffer.New(capacity),
		cap:   capacity,
	}
}

func (r *Ring[T]) Push(value T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue.Enqueue(value)
}

func (r *Ring[T]) Latest() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var zero T
	values := r.queue.Values()
	if len(values) == 0 {
		return zero, false
	}
	return values[len(values)-1].(T), true
}

// Snapshot returns the n most recent elements, oldest first. n <= 0 returns
// everything.
func (r *Ring[T]) Snapshot(n int) []T {
	r.mu.RLock()
	values := r.queue.Values()
	r.mu.RUnlock()

	if n <= 0 || n > len(values) {
		n = len(values)
	}
	out := make([]T, 0, n)
	for _, v := range values[len(values)-n:] {
		out = append(out, v.(T))
	}
	return out
}

func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.queue.Size()
}

func (r *Ring[T]) Cap() int {
	return r.cap
}

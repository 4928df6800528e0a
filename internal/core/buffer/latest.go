package buffer

import "sync/atomic"

// Latest holds the most recent value of T for lock free readers.
type Latest[T any] struct {
	value atomic.Pointer[T]
}

func (l *Latest[T]) Set(value T) {
	l.value.Store(&value)
}

func (l *Latest[T]) Get() (T, bool) {
	p := l.value.Load()
	if p == nil {
		var zero T
		return zero, false
	}
	return *p, true
}

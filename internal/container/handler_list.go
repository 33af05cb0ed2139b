package container

import (
	"iter"
	"sync"
)

type entry[T any] struct {
	id    uint64
	value T
}

// HandlerList is a concurrency-safe collection that preserves insertion order
// and hands back a removal function for each appended value.
type HandlerList[T any] struct {
	mu      sync.RWMutex
	nextID  uint64
	entries []entry[T]
}

func NewHandlerList[T any]() *HandlerList[T] {
	return &HandlerList[T]{}
}

// Append adds a value to the end of the list. The returned function removes
// the value; calling it more than once is a no-op.
func (l *HandlerList[T]) Append(value T) (remove func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++
	l.entries = append(l.entries, entry[T]{id, value})

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for i, e := range l.entries {
				if e.id == id {
					l.entries = append(l.entries[:i], l.entries[i+1:]...)
					return
				}
			}
		})
	}
}

// All iterates the values in insertion order. The list lock is held for the
// duration of the iteration.
func (l *HandlerList[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		l.mu.RLock()
		defer l.mu.RUnlock()

		for _, e := range l.entries {
			if !yield(e.value) {
				return
			}
		}
	}
}

package session

import (
	"errors"
	"log"
	"reflect"
	"sync"
)

var ErrInvalidListener = errors.New("listener must be a non-nil comparable value")

type Listener[T any] interface {
	Handle(T)
}

type funcListener[T any] struct {
	fn func(T)
}

func (l *funcListener[T]) Handle(v T) {
	l.fn(v)
}

// NewListener wraps fn in a listener with a stable identity. Keep the
// returned value to unsubscribe later.
func NewListener[T any](fn func(T)) Listener[T] {
	return &funcListener[T]{fn: fn}
}

// Registry is a set of listeners for one event kind.
type Registry[T any] struct {
	name      string
	log       *log.Logger
	mu        sync.Mutex
	listeners []Listener[T]
}

func NewRegistry[T any](name string, logger *log.Logger) *Registry[T] {
	return &Registry[T]{name: name, log: logger}
}

// Add registers l and reports whether it was new.
func (r *Registry[T]) Add(l Listener[T]) (bool, error) {
	if l == nil || !reflect.TypeOf(l).Comparable() {
		return false, ErrInvalidListener
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexOf(l) >= 0 {
		return false, nil
	}
	r.listeners = append(r.listeners, l)
	return true, nil
}

func (r *Registry[T]) Remove(l Listener[T]) bool {
	if l == nil || !reflect.TypeOf(l).Comparable() {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(l)
	if i < 0 {
		return false
	}
	r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
	return true
}

// Notify calls every listener registered at the time of the call. A
// listener that panics is logged and skipped. It returns how many
// listeners returned normally.
func (r *Registry[T]) Notify(v T) int {
	r.mu.Lock()
	snapshot := make([]Listener[T], len(r.listeners))
	copy(snapshot, r.listeners)
	r.mu.Unlock()

	delivered := 0
	for _, l := range snapshot {
		if r.call(l, v) {
			delivered++
		}
	}
	return delivered
}

func (r *Registry[T]) call(l Listener[T], v T) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Printf("session: %s listener panicked: %v", r.name, rec)
			ok = false
		}
	}()

	l.Handle(v)
	return true
}

func (r *Registry[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = nil
}

func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners)
}

func (r *Registry[T]) indexOf(l Listener[T]) int {
	for i, existing := range r.listeners {
		if existing == l {
			return i
		}
	}
	return -1
}

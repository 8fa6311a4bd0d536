// Package reactive binds view code to the session store. A View projects
// the session tree into whatever shape a screen needs and notifies its
// listeners synchronously on every store mutation — there are no polling
// re-reads and therefore no staleness windows.
package reactive

import (
	"sync"

	"github.com/instrulink/sessionkit/internal/session"
	"github.com/instrulink/sessionkit/internal/shared/types"
)

// View holds the latest projection of the session tree.
type View[T any] struct {
	mu        sync.Mutex
	value     T
	listeners map[int]func(T)
	nextID    int
	stop      func()
}

// Bind subscribes a projection to the store. The projection receives a
// snapshot of the tree (nil once the session has ended) and must not
// retain references into it across calls.
func Bind[T any](store *session.Store, project func(*types.Session) T) *View[T] {
	v := &View[T]{
		value:     project(store.GetCurrentSession()),
		listeners: make(map[int]func(T)),
	}
	v.stop = store.Subscribe(func(evt session.Event) {
		next := project(evt.Session)

		v.mu.Lock()
		v.value = next
		fns := make([]func(T), 0, len(v.listeners))
		for _, fn := range v.listeners {
			fns = append(fns, fn)
		}
		v.mu.Unlock()

		for _, fn := range fns {
			fn(next)
		}
	})
	return v
}

// Get returns the latest projected value.
func (v *View[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value
}

// Listen registers a listener invoked with each new projection. Returns an
// unregister func.
func (v *View[T]) Listen(fn func(T)) func() {
	v.mu.Lock()
	defer v.mu.Unlock()
	listenerID := v.nextID
	v.nextID++
	v.listeners[listenerID] = fn
	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.listeners, listenerID)
	}
}

// Close detaches the view from the store. Safe to call concurrently and
// more than once.
func (v *View[T]) Close() {
	v.mu.Lock()
	stop := v.stop
	v.stop = nil
	v.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Synchronous publish/subscribe primitive used by the hardware interface
// for frame received, frame transmitted and periodic update notifications.
package event

import "sync"

// A Listener is a callback fired for every dispatched value
type Listener[T any] func(value T)

// Dispatcher fires listeners synchronously, in registration order,
// on the goroutine calling Dispatch.
// A slow listener directly delays the dispatching goroutine, this is a
// documented cost : listeners needing isolation must hand off internally.
// Subscribe & Unsubscribe are safe to call at any time, including from
// inside a listener while a dispatch is in flight.
type Dispatcher[T any] struct {
	mu        sync.Mutex
	listeners []listenerEntry[T]
	nextId    int
}

type listenerEntry[T any] struct {
	id       int
	listener Listener[T]
}

func NewDispatcher[T any]() *Dispatcher[T] {
	return &Dispatcher[T]{}
}

// Subscribe adds a listener and returns an id for removing it later
func (d *Dispatcher[T]) Subscribe(listener Listener[T]) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextId++
	d.listeners = append(d.listeners, listenerEntry[T]{id: d.nextId, listener: listener})
	return d.nextId
}

// Unsubscribe removes a previously added listener
func (d *Dispatcher[T]) Unsubscribe(id int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, entry := range d.listeners {
		if entry.id == id {
			d.listeners = append(d.listeners[:i:i], d.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// Dispatch fires all listeners with the given value, in registration order.
// The listener list is snapshotted first, so mutating subscriptions from
// inside a listener does not invalidate the in flight iteration.
func (d *Dispatcher[T]) Dispatch(value T) {
	d.mu.Lock()
	entries := d.listeners
	d.mu.Unlock()
	for _, entry := range entries {
		entry.listener(value)
	}
}

// Len returns the number of registered listeners
func (d *Dispatcher[T]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.listeners)
}

// Package dispatch routes decoded inbound events to registered
// handlers. Delivery is cooperative: handlers for an event run
// synchronously in registration order before the next event is
// processed, so handlers must not block.
package dispatch

import (
	"sync"

	"github.com/chatflow/chatflow/pkg/model"
)

type Handler func(env model.Envelope)

type entry struct {
	id int
	fn Handler
}

type Dispatcher struct {
	mu       sync.Mutex
	nextID   int
	handlers map[model.EventKind][]entry
}

func New() *Dispatcher {
	return &Dispatcher{handlers: make(map[model.EventKind][]entry)}
}

// On registers a handler for an event kind and returns a function that
// unregisters it. Unregistering during dispatch does not affect the
// event currently in flight.
func (d *Dispatcher) On(kind model.EventKind, fn Handler) func() {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.handlers[kind] = append(d.handlers[kind], entry{id: id, fn: fn})
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		entries := d.handlers[kind]
		for i, e := range entries {
			if e.id == id {
				d.handlers[kind] = append(entries[:i:i], entries[i+1:]...)
				return
			}
		}
	}
}

// Dispatch delivers one event to the handlers registered at call time.
func (d *Dispatcher) Dispatch(env model.Envelope) {
	d.mu.Lock()
	entries := d.handlers[env.Event]
	snapshot := make([]entry, len(entries))
	copy(snapshot, entries)
	d.mu.Unlock()

	for _, e := range snapshot {
		e.fn(env)
	}
}

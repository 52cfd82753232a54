// Package bus provides the per-connection event dispatch register that
// decouples the transport from its consumers. A chat widget and a ticket
// detail panel can both be alive for the same ticket with independent
// lifecycles; each holds its own subscriptions.
//
// Dispatch is synchronous and in registration order. A panicking handler
// is isolated: it is logged and the remaining handlers for the event still
// run. Unsubscribing is done by closing the Subscription returned from On,
// which eliminates the mismatched add/remove pairs of callback-style APIs.
package bus

import (
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/techdesk/realtime/internal/protocol"
)

// Handler consumes one event. Handlers run on the transport's read
// goroutine; they must not block.
type Handler func(protocol.Event)

// Subscription is a live registration on a Bus. Closing it removes the
// handler; Close is idempotent and safe after Bus.Reset.
type Subscription struct {
	id   string
	kind protocol.EventKind
	fn   Handler
	bus  *Bus
}

// Close unregisters the handler. Subsequent events of this kind are no
// longer delivered to it.
func (s *Subscription) Close() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.remove(s)
}

// Bus is a register of handlers keyed by event kind.
// The zero value is not usable; call New.
type Bus struct {
	mu   sync.Mutex
	subs map[protocol.EventKind][]*Subscription
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[protocol.EventKind][]*Subscription)}
}

// On registers a handler for the given event kind and returns its
// Subscription. Handlers for one kind are dispatched in registration
// order.
func (b *Bus) On(kind protocol.EventKind, fn Handler) *Subscription {
	sub := &Subscription{
		id:   uuid.NewString(),
		kind: kind,
		fn:   fn,
		bus:  b,
	}

	b.mu.Lock()
	b.subs[kind] = append(b.subs[kind], sub)
	b.mu.Unlock()

	return sub
}

// Emit dispatches an event to every handler registered for its kind,
// synchronously and in registration order. A handler panic is logged and
// does not prevent later handlers from running.
func (b *Bus) Emit(ev protocol.Event) {
	b.mu.Lock()
	// Snapshot so handlers can subscribe/unsubscribe during dispatch
	// without corrupting the iteration.
	subs := make([]*Subscription, len(b.subs[ev.Kind]))
	copy(subs, b.subs[ev.Kind])
	b.mu.Unlock()

	for _, sub := range subs {
		dispatch(sub, ev)
	}
}

func dispatch(sub *Subscription, ev protocol.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Warning: event handler panicked for %s: %v", ev.Kind, r)
		}
	}()
	sub.fn(ev)
}

// Reset drops every registration. The transport calls this on disconnect;
// consumers re-register on the next connect.
func (b *Bus) Reset() {
	b.mu.Lock()
	b.subs = make(map[protocol.EventKind][]*Subscription)
	b.mu.Unlock()
}

// Len reports the number of live registrations for a kind.
func (b *Bus) Len(kind protocol.EventKind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[kind])
}

func (b *Bus) remove(target *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[target.kind]
	for i, sub := range subs {
		if sub.id == target.id {
			b.subs[target.kind] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

package events

import (
	"sync"
	"time"
)

// Subscriber receives events from the bus.
type Subscriber interface {
	Receive(ev Event)
	Closed() bool
}

// SubscriberFunc adapts a plain function into a Subscriber that never
// closes. Funcs are not comparable, so only register one with
// SubscribeGlobal, never with Subscribe/Unsubscribe.
type SubscriberFunc func(ev Event)

func (f SubscriberFunc) Receive(ev Event) { f(ev) }
func (f SubscriberFunc) Closed() bool     { return false }

// Bus is a per-session pub/sub event bus with support for global
// subscribers. The server emits events; descriptors, the metrics collector
// and the capability recorder consume them.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int][]Subscriber
	global      []Subscriber
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[int][]Subscriber),
	}
}

// Subscribe registers a subscriber for one session's events.
func (b *Bus) Subscribe(session int, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[session] = append(b.subscribers[session], sub)
}

// Unsubscribe removes a subscriber for a session.
func (b *Bus) Unsubscribe(session int, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[session]
	for i, s := range subs {
		if s == sub {
			b.subscribers[session] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subscribers[session]) == 0 {
		delete(b.subscribers, session)
	}
}

// SubscribeGlobal registers a subscriber that receives all events.
func (b *Bus) SubscribeGlobal(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.global = append(b.global, sub)
}

// Emit sends an event to the subscribers of ev.Session and to all global
// subscribers. A zero Time is filled in.
func (b *Bus) Emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	subs := b.subscribers[ev.Session]
	globals := b.global
	b.mu.RUnlock()

	deliver(subs, ev)
	deliver(globals, ev)
}

// EmitToSession sends an event to a specific session (overriding ev.Session).
func (b *Bus) EmitToSession(session int, ev Event) {
	ev.Session = session
	b.Emit(ev)
}

// Broadcast delivers ev to every subscribed session except the one named
// by except (0 excludes nobody). Global subscribers see it once, with
// Session left at 0.
func (b *Bus) Broadcast(ev Event, except int) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	targets := make(map[int][]Subscriber, len(b.subscribers))
	for id, subs := range b.subscribers {
		if id != except {
			targets[id] = subs
		}
	}
	globals := b.global
	b.mu.RUnlock()

	for id, subs := range targets {
		sessionEv := ev
		sessionEv.Session = id
		deliver(subs, sessionEv)
	}
	ev.Session = 0
	deliver(globals, ev)
}

func deliver(subs []Subscriber, ev Event) {
	for _, s := range subs {
		if !s.Closed() {
			s.Receive(ev)
		}
	}
}

// SessionSubscribers returns the number of subscribers for a session.
func (b *Bus) SessionSubscribers(session int) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[session])
}

// Cleanup removes closed subscribers from all lists.
func (b *Bus) Cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for session, subs := range b.subscribers {
		var active []Subscriber
		for _, s := range subs {
			if !s.Closed() {
				active = append(active, s)
			}
		}
		if len(active) == 0 {
			delete(b.subscribers, session)
		} else {
			b.subscribers[session] = active
		}
	}

	var activeGlobal []Subscriber
	for _, s := range b.global {
		if !s.Closed() {
			activeGlobal = append(activeGlobal, s)
		}
	}
	b.global = activeGlobal
}

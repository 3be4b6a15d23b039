package events

import (
	"sync"
)

// Handler receives one event. Handlers run on the publisher's goroutine, so
// they must not block; hand heavy work off to another goroutine.
type Handler func(Event)

// Bus fans events out to subscribers. Events from one publisher goroutine
// reach every subscriber in publish order.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]subscription
}

type subscription struct {
	kinds   map[Kind]struct{}
	handler Handler
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]subscription)}
}

// Subscribe registers handler for the given kinds, or for every kind when
// none are given. The returned function removes the subscription; calling it
// more than once is harmless.
func (b *Bus) Subscribe(handler Handler, kinds ...Kind) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	sub := subscription{handler: handler}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = struct{}{}
		}
	}
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers ev to every matching subscriber, synchronously.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.kinds != nil {
			if _, ok := sub.kinds[ev.Kind]; !ok {
				continue
			}
		}
		handlers = append(handlers, sub.handler)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

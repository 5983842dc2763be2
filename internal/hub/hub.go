package hub

// Derived from https://github.com/cenkalti/hub/blob/master/hub.go.

import "sync"

// Key is the account an event belongs to.
type Key = string

// All subscribes to events of every key.
const All Key = "*"

// Event is published to the subscribers of its key and to All subscribers.
type Event interface {
	Key() Key
}

// Hub dispatches session events to subscribers.
// Handlers run synchronously in the publishing goroutine, in no particular order.
// A handler may cancel its own subscription.
type Hub struct {
	subscribers map[Key][]handler
	m           sync.RWMutex
	seq         uint64
}

type handler struct {
	f  func(Event)
	id uint64
}

// Subscribe registers f for events of key. The returned function removes it
// and may be called more than once.
func (h *Hub) Subscribe(key Key, f func(Event)) (cancel func()) {
	var once sync.Once
	h.m.Lock()
	h.seq++
	id := h.seq
	if h.subscribers == nil {
		h.subscribers = make(map[Key][]handler)
	}
	h.subscribers[key] = append(h.subscribers[key], handler{id: id, f: f})
	h.m.Unlock()
	return func() {
		once.Do(func() { h.unsubscribe(key, id) })
	}
}

func (h *Hub) unsubscribe(key Key, id uint64) {
	h.m.Lock()
	defer h.m.Unlock()
	a := h.subscribers[key]
	for i, f := range a {
		if f.id == id {
			b := make([]handler, 0, len(a)-1)
			b = append(b, a[:i]...)
			h.subscribers[key] = append(b, a[i+1:]...)
			break
		}
	}
	if len(h.subscribers[key]) == 0 {
		delete(h.subscribers, key)
	}
}

// Publish an event to the subscribers of its key and to All subscribers.
func (h *Hub) Publish(e Event) {
	h.m.RLock()
	handlers := h.subscribers[e.Key()]
	var wildcard []handler
	if e.Key() != All {
		wildcard = h.subscribers[All]
	}
	h.m.RUnlock()
	for _, hd := range handlers {
		hd.f(e)
	}
	for _, hd := range wildcard {
		hd.f(e)
	}
}

// Subscribers returns the number of handlers registered for key.
func (h *Hub) Subscribers(key Key) int {
	h.m.RLock()
	defer h.m.RUnlock()
	return len(h.subscribers[key])
}

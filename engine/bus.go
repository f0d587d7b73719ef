package engine

import "sync"

type EventType int

type Event struct {
	Type    EventType
	Payload any
}

// EventBus fans events out to subscribers synchronously, in subscription
// order. Handlers must not block.
type EventBus struct {
	mu   sync.RWMutex
	subs map[EventType][]func(Event)
	all  []func(Event)
}

func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[EventType][]func(Event))}
}

func (b *EventBus) Subscribe(fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, fn)
}

func (b *EventBus) SubscribeTypes(fn func(Event), types ...EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range types {
		b.subs[t] = append(b.subs[t], fn)
	}
}

func (b *EventBus) Emit(evt Event) {
	b.mu.RLock()
	typed := b.subs[evt.Type]
	all := b.all
	b.mu.RUnlock()
	for _, fn := range typed {
		fn(evt)
	}
	for _, fn := range all {
		fn(evt)
	}
}

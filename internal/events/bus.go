package events

import (
	"sync"
)

// Bus is a lightweight pub/sub broker using channels.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Event][]chan any
	dropped map[Event]uint64
	onDrop  func(Event, any)
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		subs:    make(map[Event][]chan any),
		dropped: make(map[Event]uint64),
	}
}

// Subscribe registers a listener for an event and returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	return b.SubscribeMany([]Event{e}, buffer)
}

// SubscribeMany registers one channel for several topics. Unsubscribing
// detaches it from all of them before closing it.
func (b *Bus) SubscribeMany(topics []Event, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	for _, e := range topics {
		b.subs[e] = append(b.subs[e], ch)
	}

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for _, e := range topics {
				subs := b.subs[e]
				for i, c := range subs {
					if c == ch {
						b.subs[e] = append(subs[:i], subs[i+1:]...)
						break
					}
				}
			}
			close(ch)
		})
	}

	return ch, unsub
}

// OnDrop registers fn to be called, outside the bus lock, for every
// delivery skipped because a subscriber was full.
func (b *Bus) OnDrop(fn func(e Event, payload any)) {
	b.mu.Lock()
	b.onDrop = fn
	b.mu.Unlock()
}

// Publish fan-outs the payload to subscribers without blocking the caller.
func (b *Bus) Publish(e Event, payload any) {
	b.mu.RLock()
	drops := 0
	for _, ch := range b.subs[e] {
		select {
		case ch <- payload:
		default:
			// drop if subscriber is slow; keep broker non-blocking
			drops++
		}
	}
	onDrop := b.onDrop
	b.mu.RUnlock()

	if drops == 0 {
		return
	}
	b.mu.Lock()
	b.dropped[e]++
	b.mu.Unlock()
	if onDrop != nil {
		for i := 0; i < drops; i++ {
			onDrop(e, payload)
		}
	}
}

// Dropped returns how many deliveries were skipped for e because a subscriber was full.
func (b *Bus) Dropped(e Event) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped[e]
}

package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Envelope wraps a payload with its topic for subscribers that listen to
// every topic at once.
type Envelope struct {
	Topic   Event     `json:"topic"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

// Bus is a lightweight pub/sub broker using channels. Delivery is
// fire-and-forget: a full subscriber buffer drops the event.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Event][]chan any
	all     []chan Envelope
	dropped atomic.Uint64
	sent    atomic.Uint64
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]chan any)}
}

// Subscribe registers a listener for an event and returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	b.subs[e] = append(b.subs[e], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[e]
			for i, c := range subs {
				if c == ch {
					close(c)
					b.subs[e] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		})
	}

	return ch, unsub
}

// SubscribeAll registers a listener for every topic.
func (b *Bus) SubscribeAll(buffer int) (<-chan Envelope, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Envelope, buffer)
	b.all = append(b.all, ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, c := range b.all {
				if c == ch {
					close(c)
					b.all = append(b.all[:i], b.all[i+1:]...)
					break
				}
			}
		})
	}
	return ch, unsub
}

// Publish fans the payload out to subscribers without blocking.
func (b *Bus) Publish(e Event, payload any) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e] {
		select {
		case ch <- payload:
			b.sent.Add(1)
		default:
			b.dropped.Add(1)
		}
	}
	if len(b.all) == 0 {
		return
	}
	env := Envelope{Topic: e, At: time.Now().UTC(), Payload: payload}
	for _, ch := range b.all {
		select {
		case ch <- env:
			b.sent.Add(1)
		default:
			b.dropped.Add(1)
		}
	}
}

// Stats reports delivered and dropped deliveries since start.
func (b *Bus) Stats() (sent, dropped uint64) {
	return b.sent.Load(), b.dropped.Load()
}

// Package bus provides the in-process fan-out between event producers and sinks.
package bus

import (
	"log"
	"sync"

	"example.com/deskactivity/internal/events"
)

// Listener receives every event published after it subscribed.
type Listener func(events.ActivityEvent)

// Option configures optional behaviour for the Bus.
type Option func(*Bus)

// WithLogger overrides the logger used to report listener panics.
func WithLogger(logger *log.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

type subscription struct {
	id       uint64
	listener Listener
}

// Bus delivers events synchronously to listeners in registration order.
// There is no replay: late subscribers only observe later events.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	logger *log.Logger
}

// New constructs an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		logger: log.New(log.Writer(), "[bus] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers listener and returns a function removing it again.
func (b *Bus) Subscribe(listener Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, listener: listener})

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(id) })
	}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish hands evt to every current listener before returning.
// A panicking listener is logged and does not stop delivery to the others.
func (b *Bus) Publish(evt events.ActivityEvent) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, sub := range subs {
		b.deliver(sub, evt)
	}
	recordPublished(evt.EventType)
}

// Len reports the number of registered listeners.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) deliver(sub subscription, evt events.ActivityEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Printf("listener %d panicked (event_id=%s): %v", sub.id, evt.EventID, r)
			recordListenerPanic()
		}
	}()
	sub.listener(evt)
}

package stream

import (
	"sync"

	"example.com/deskactivity/internal/events"
)

// DefaultWindowSize is the number of recent events kept for live views.
const DefaultWindowSize = 1000

// Window holds the most recent events, oldest first. When full it discards
// the older half in one step.
type Window struct {
	mu     sync.RWMutex
	size   int
	events []events.ActivityEvent
}

// NewWindow constructs an empty window holding at most size events.
func NewWindow(size int) *Window {
	if size < 2 {
		size = DefaultWindowSize
	}
	return &Window{size: size, events: make([]events.ActivityEvent, 0, size)}
}

// Add appends evt, trimming to the newest half of the capacity on overflow.
func (w *Window) Add(evt events.ActivityEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, evt)
	if len(w.events) > w.size {
		keep := w.size / 2
		trimmed := make([]events.ActivityEvent, keep, w.size)
		copy(trimmed, w.events[len(w.events)-keep:])
		w.events = trimmed
	}
}

// Snapshot returns a copy of the held events, oldest first.
func (w *Window) Snapshot() []events.ActivityEvent {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]events.ActivityEvent(nil), w.events...)
}

// Len returns the number of held events.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.events)
}

// Reset empties the window.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = w.events[:0]
}

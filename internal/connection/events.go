package connection

import (
	"sync"
	"time"

	"github.com/dj-oyu/ppe-monitor/internal/detection"
	"github.com/dj-oyu/ppe-monitor/internal/logger"
)

// EventKind enumerates everything a Manager publishes.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventError
	EventDetection
	EventViolation
	EventReconnectFailed
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	case EventDetection:
		return "detection"
	case EventViolation:
		return "violation"
	case EventReconnectFailed:
		return "reconnect_failed"
	default:
		return "unknown"
	}
}

// Event is delivered to handlers. Only the fields relevant to Kind are set.
type Event struct {
	Kind EventKind
	Time time.Time

	// Err is set for EventError and for EventDisconnected caused by a transport failure.
	Err error
	// Attempts is the number of reconnect attempts made, for EventReconnectFailed.
	Attempts int

	Detection detection.DetectionEvent
	Violation detection.ViolationEvent
	Raw       []byte
}

// Handler receives events. It runs on the goroutine that produced the event.
type Handler func(Event)

type subscription struct {
	id int
	fn Handler
}

// Bus is a typed publish/subscribe registry. Handlers for one kind are called
// synchronously in registration order.
type Bus struct {
	mu     sync.Mutex
	subs   map[EventKind][]subscription
	nextID int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventKind][]subscription)}
}

// On registers h for kind and returns a function that removes it. The returned
// function may be called any number of times.
func (b *Bus) On(kind EventKind, h Handler) func() {
	if h == nil {
		return func() {}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[kind] = append(b.subs[kind], subscription{id: id, fn: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(kind, id) })
	}
}

func (b *Bus) remove(kind EventKind, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[kind]
	for i, s := range subs {
		if s.id == id {
			b.subs[kind] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Len returns the number of handlers registered for kind.
func (b *Bus) Len(kind EventKind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[kind])
}

// Publish calls every handler registered for ev.Kind. A panicking handler is
// logged and does not prevent later handlers from running.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	subs := b.subs[ev.Kind]
	snapshot := make([]subscription, len(subs))
	copy(snapshot, subs)
	b.mu.Unlock()

	for _, s := range snapshot {
		invoke(s.fn, ev)
	}
}

func invoke(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Connection", "Handler for %s event panicked: %v", ev.Kind, r)
		}
	}()
	h(ev)
}

package events

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"dashcore/core/logger"
	"dashcore/core/metrics"

	"go.uber.org/zap"
)

// Bus is a named-event publish/subscribe register for UI-originated and
// cross-component notifications. Listeners run synchronously inside Emit,
// in registration order.
//
// Go funcs are not comparable, so On returns a ListenerID that stands in for
// the callback when calling Off.
type Bus interface {
	On(event string, fn Listener) ListenerID
	Off(event string, id ListenerID)
	Emit(event string, data any)
	Once(event string, fn Listener) ListenerID
	ListenerCount(event string) int
	Has(event string, id ListenerID) bool
	Events() []string
}

// Listener receives the data passed to Emit.
type Listener func(data any)

// ListenerID identifies a single registration made with On or Once.
type ListenerID uint64

type entry struct {
	id ListenerID
	fn Listener
}

type bus struct {
	mu        sync.Mutex
	nextID    ListenerID
	listeners map[string][]entry
}

// New returns a new event bus instance.
func New() Bus {
	return &bus{listeners: make(map[string][]entry)}
}

func (b *bus) On(event string, fn Listener) ListenerID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	// Copy on write so an in-progress Emit keeps iterating its own snapshot.
	list := b.listeners[event]
	next := make([]entry, len(list), len(list)+1)
	copy(next, list)
	b.listeners[event] = append(next, entry{id: id, fn: fn})
	return id
}

func (b *bus) Off(event string, id ListenerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list, ok := b.listeners[event]
	if !ok {
		return
	}
	next := make([]entry, 0, len(list))
	for _, e := range list {
		if e.id != id {
			next = append(next, e)
		}
	}
	if len(next) == 0 {
		delete(b.listeners, event)
		return
	}
	b.listeners[event] = next
}

func (b *bus) Emit(event string, data any) {
	b.mu.Lock()
	list := b.listeners[event]
	b.mu.Unlock()
	for _, e := range list {
		b.invoke(event, e, data)
	}
}

// invoke runs one listener and recovers from panics so the remaining
// listeners still receive the event.
func (b *bus) invoke(event string, e entry, data any) {
	defer func() {
		if r := recover(); r != nil {
			metrics.HandlerPanicCounter.WithLabelValues("listener", event).Inc()
			logger.Error(context.Background(), "Panic recovered in event listener",
				zap.String("event", event),
				zap.Uint64("listener", uint64(e.id)),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	e.fn(data)
}

func (b *bus) Once(event string, fn Listener) ListenerID {
	var (
		once  sync.Once
		id    ListenerID
		ready = make(chan struct{})
	)
	id = b.On(event, func(data any) {
		<-ready
		once.Do(func() {
			b.Off(event, id)
			fn(data)
		})
	})
	close(ready)
	return id
}

func (b *bus) ListenerCount(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[event])
}

// Has reports whether the registration id is still live on event.
func (b *bus) Has(event string, id ListenerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.listeners[event] {
		if e.id == id {
			return true
		}
	}
	return false
}

// Events returns the names of events with at least one listener, sorted.
func (b *bus) Events() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.listeners))
	for name := range b.listeners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

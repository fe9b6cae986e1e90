// Package lifecycle gives UI components a symmetric mount/teardown: every
// topic subscription and event bus listener a component adds while mounting
// is removed again by Destroy, and anything left behind is reported.
package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"

	dcerrors "dashcore/core/errors"
	"dashcore/core/events"
	"dashcore/core/logger"
	"dashcore/core/publisher"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Subscriber is the subscriber-table half of publisher.Publisher.
type Subscriber interface {
	Subscribe(topic string, owner any, handler publisher.Handler)
	Unsubscribe(topic string, owner any)
	OwnerSubscriptions(owner any) map[string]int
}

// Component declares the topic handlers and event listeners of one widget.
// The *Component itself is the subscription owner.
type Component struct {
	ID            uuid.UUID
	Name          string
	Subscriptions map[string][]publisher.Handler
	EventHandlers map[string]events.Listener

	mu       sync.Mutex
	sub      Subscriber
	bus      events.Bus
	topics   []string
	handlers events.Handlers
	mounted  bool
}

// NewComponent returns an unmounted component with a fresh ID.
func NewComponent(name string) *Component {
	return &Component{
		ID:            uuid.New(),
		Name:          name,
		Subscriptions: make(map[string][]publisher.Handler),
		EventHandlers: make(map[string]events.Listener),
	}
}

// Subscribe declares a handler for topic. It must be called before Mount.
func (c *Component) Subscribe(topic string, h publisher.Handler) *Component {
	c.Subscriptions[topic] = append(c.Subscriptions[topic], h)
	return c
}

// On declares an event bus listener. It must be called before Mount.
func (c *Component) On(event string, fn events.Listener) *Component {
	c.EventHandlers[event] = fn
	return c
}

func (c *Component) String() string {
	return fmt.Sprintf("%s(%s)", c.Name, c.ID)
}

// Mount subscribes every declared handler on sub and registers every
// declared listener on bus. bus may be nil when the component declares no
// listeners.
func (c *Component) Mount(sub Subscriber, bus events.Bus) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mounted {
		return fmt.Errorf("mount %s: %w", c, dcerrors.ErrAlreadyMounted)
	}
	if sub == nil {
		return fmt.Errorf("mount %s: %w: nil subscriber", c, dcerrors.ErrInvalidInput)
	}
	if bus == nil && len(c.EventHandlers) > 0 {
		return fmt.Errorf("mount %s: %w: listeners declared without an event bus", c, dcerrors.ErrInvalidInput)
	}

	c.sub, c.bus = sub, bus
	c.topics = c.topics[:0]
	for topic, hs := range c.Subscriptions {
		for _, h := range hs {
			sub.Subscribe(topic, c, h)
		}
		c.topics = append(c.topics, topic)
	}
	sort.Strings(c.topics)
	if bus != nil {
		c.handlers = events.OnHandlers(bus, c.EventHandlers)
	}
	c.mounted = true

	logger.Debug(context.Background(), "Component mounted",
		zap.String("component", c.String()),
		zap.Strings("topics", c.topics),
		zap.Int("listeners", len(c.handlers)),
	)
	return nil
}

// Mounted reports whether the component is currently mounted.
func (c *Component) Mounted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mounted
}

// Destroy removes exactly what Mount added. Calling it on an unmounted
// component does nothing.
func (c *Component) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.mounted {
		return
	}
	for _, topic := range c.topics {
		c.sub.Unsubscribe(topic, c)
	}
	if c.bus != nil {
		events.OffHandlers(c.bus, c.handlers)
	}
	c.mounted = false
	logger.Debug(context.Background(), "Component destroyed", zap.String("component", c.String()))
}

// Leaks lists every subscription owned by the component and every listener
// it registered that is still live. After Destroy the list should be empty.
func (c *Component) Leaks() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []string
	if c.sub != nil {
		for topic, n := range c.sub.OwnerSubscriptions(c) {
			out = append(out, fmt.Sprintf("subscription %s (%d)", topic, n))
		}
	}
	if c.bus != nil {
		for event, id := range c.handlers {
			if c.bus.Has(event, id) {
				out = append(out, fmt.Sprintf("listener %s", event))
			}
		}
	}
	sort.Strings(out)
	return out
}

// VerifyCleanup returns an error wrapping ErrLeak when Leaks is non-empty.
func (c *Component) VerifyCleanup() error {
	leaks := c.Leaks()
	if len(leaks) == 0 {
		return nil
	}
	logger.Warn(context.Background(), "Component left registrations behind",
		zap.String("component", c.String()),
		zap.Strings("leaks", leaks),
	)
	return fmt.Errorf("%s: %w: %v", c, dcerrors.ErrLeak, leaks)
}

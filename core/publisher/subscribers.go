package publisher

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"dashcore/core/logger"
	"dashcore/core/metrics"

	"go.uber.org/zap"
)

type subscription struct {
	owner   any
	handler Handler
}

// Subscribe adds handler for topic under owner. An owner may hold several
// handlers on the same topic (a render function and a counter, say); each is
// delivered once per fetch.
//
// owner is compared with ==, so it must be a comparable value. Components
// pass a pointer to themselves. Subscriptions with an owner that cannot be
// compared (a map, a slice, a struct holding one) are dropped with a warning.
func (p *Publisher) Subscribe(topic string, owner any, handler Handler) {
	if handler == nil {
		return
	}
	if !comparableOwner(owner) {
		logger.Warn(context.Background(), "Ignoring subscription with incomparable owner",
			zap.String("topic", topic), zap.String("owner_type", fmt.Sprintf("%T", owner)))
		return
	}
	p.mu.Lock()
	list := p.subs[topic]
	// Copy on write: a delivery pass in flight keeps its own snapshot.
	next := make([]subscription, len(list), len(list)+1)
	copy(next, list)
	next = append(next, subscription{owner: owner, handler: handler})
	p.subs[topic] = next
	p.mu.Unlock()

	metrics.Subscribers.WithLabelValues(topic).Set(float64(len(next)))
}

// Unsubscribe removes every handler owner holds on topic. It is a no-op
// when nothing matches.
func (p *Publisher) Unsubscribe(topic string, owner any) {
	if !comparableOwner(owner) {
		return
	}
	p.mu.Lock()
	n, changed := p.removeLocked(topic, owner)
	p.mu.Unlock()

	if changed {
		metrics.Subscribers.WithLabelValues(topic).Set(float64(n))
	}
}

// UnsubscribeAll removes owner from every topic.
func (p *Publisher) UnsubscribeAll(owner any) {
	if !comparableOwner(owner) {
		return
	}
	p.mu.Lock()
	counts := make(map[string]int)
	for topic := range p.subs {
		if n, changed := p.removeLocked(topic, owner); changed {
			counts[topic] = n
		}
	}
	p.mu.Unlock()

	for topic, n := range counts {
		metrics.Subscribers.WithLabelValues(topic).Set(float64(n))
	}
}

// comparableOwner reports whether owner can be used with == without
// panicking. Struct and array types are comparable by type but may still
// panic when they hold an interface with an incomparable dynamic value.
func comparableOwner(owner any) bool {
	if owner == nil {
		return true
	}
	return comparableValue(reflect.ValueOf(owner))
}

func comparableValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return true
		}
		return comparableValue(v.Elem())
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if !comparableValue(v.Field(i)) {
				return false
			}
		}
		return true
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if !comparableValue(v.Index(i)) {
				return false
			}
		}
		return true
	default:
		return v.Type().Comparable()
	}
}

// removeLocked drops owner's entries from topic and reports the remaining
// count. p.mu must be held.
func (p *Publisher) removeLocked(topic string, owner any) (int, bool) {
	list, ok := p.subs[topic]
	if !ok {
		return 0, false
	}
	next := make([]subscription, 0, len(list))
	for _, s := range list {
		if s.owner != owner {
			next = append(next, s)
		}
	}
	if len(next) == len(list) {
		return len(list), false
	}
	if len(next) == 0 {
		delete(p.subs, topic)
		return 0, true
	}
	p.subs[topic] = next
	return len(next), true
}

func (p *Publisher) snapshot(topic string) []subscription {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.subs[topic]
}

// SubscriberCount returns the number of live handlers on topic.
func (p *Publisher) SubscriberCount(topic string) int {
	return len(p.snapshot(topic))
}

// OwnerSubscriptions returns, per topic, how many handlers owner still
// holds. An empty map means the owner has fully unsubscribed.
func (p *Publisher) OwnerSubscriptions(owner any) map[string]int {
	out := make(map[string]int)
	if !comparableOwner(owner) {
		return out
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for topic, list := range p.subs {
		for _, s := range list {
			if s.owner == owner {
				out[topic]++
			}
		}
	}
	return out
}

// SubscribedTopics returns every topic with at least one handler, sorted.
func (p *Publisher) SubscribedTopics() []string {
	p.mu.RLock()
	topics := make([]string, 0, len(p.subs))
	for t := range p.subs {
		topics = append(topics, t)
	}
	p.mu.RUnlock()
	sort.Strings(topics)
	return topics
}

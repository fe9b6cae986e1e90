// Package publisher maps topics to remote datasets and fans fetched data out
// to the components subscribed to each topic.
//
// A Publisher owns three pieces of state: the topic registry, the subscriber
// table, and a reference to the data Fetcher. One Publisher is created per
// running application and injected into every page and component that needs
// it. All methods are safe for concurrent use; no lock is held while
// fetching or while running subscriber handlers.
package publisher

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	dcerrors "dashcore/core/errors"
	"dashcore/core/events"
	"dashcore/core/logger"
	"dashcore/core/metrics"
	"dashcore/core/registry"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "dashcore-publisher"

// Publisher is the registry, subscriber table and fetch orchestrator.
type Publisher struct {
	registry registry.Registry
	fetcher  Fetcher
	bus      events.Bus // optional; receives EventDeliveryFailed
	tracer   trace.Tracer

	mu   sync.RWMutex
	subs map[string][]subscription
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithRegistry replaces the default in-memory registry.
func WithRegistry(r registry.Registry) Option {
	return func(p *Publisher) { p.registry = r }
}

// WithEventBus makes the publisher report handler panics on b as
// EventDeliveryFailed events.
func WithEventBus(b events.Bus) Option {
	return func(p *Publisher) { p.bus = b }
}

// WithTracer overrides the OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(p *Publisher) { p.tracer = t }
}

// New returns a Publisher that fetches through f.
func New(f Fetcher, opts ...Option) *Publisher {
	p := &Publisher{
		fetcher: f,
		subs:    make(map[string][]subscription),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.registry == nil {
		p.registry = registry.NewDefaultRegistry()
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer(tracerName)
	}
	return p
}

// Registry returns the topic registry backing p.
func (p *Publisher) Registry() registry.Registry {
	return p.registry
}

// RegisterMapping stores or replaces the dataset descriptor for a topic.
func (p *Publisher) RegisterMapping(m registry.Mapping) registry.Mapping {
	return p.registry.RegisterMapping(m)
}

// UnregisterMapping removes a topic's dataset descriptor. Subscribers of the
// topic are left in place.
func (p *Publisher) UnregisterMapping(topic string) {
	p.registry.UnregisterMapping(topic)
}

// IsRegistered reports whether topic has a dataset descriptor.
func (p *Publisher) IsRegistered(topic string) bool {
	return p.registry.IsRegistered(topic)
}

// FetchAndPublish fetches the dataset registered for topic once and delivers
// the result to every handler subscribed at the moment the fetch returns.
//
// paramUpdates, when non-nil, is shallow-merged over the registered params
// with its keys taking precedence. A nil paramUpdates uses the registered
// params as they are.
//
// An unregistered topic is logged at warn level and yields (nil, nil)
// without fetching. A fetch failure is returned wrapped with
// ErrFetchFailed; nothing is delivered and no state changes. On success the
// raw payload is returned, not the envelope.
func (p *Publisher) FetchAndPublish(ctx context.Context, topic string, page Page, paramUpdates registry.Params) (Payload, error) {
	ctx, span := p.tracer.Start(ctx, "Publisher.FetchAndPublish", trace.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("page", pageName(page)),
	))
	defer span.End()

	info, ok := p.registry.Lookup(topic)
	if !ok {
		metrics.FetchCounter.WithLabelValues(topic, metrics.StatusUnregistered).Inc()
		logger.Warn(ctx, "Fetch requested for unregistered topic", zap.String("topic", topic), zap.String("page", pageName(page)))
		return nil, nil
	}
	span.SetAttributes(attribute.String("dataset", info.DatasetName))

	param := info.Param
	if paramUpdates != nil {
		param = MergeParams(info.Param, paramUpdates)
	}

	start := time.Now()
	payload, err := p.fetcher.Fetch(ctx, page, info.DatasetName, param)
	metrics.FetchDuration.WithLabelValues(topic).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FetchCounter.WithLabelValues(topic, metrics.StatusFailed).Inc()
		logger.Error(ctx, "Dataset fetch failed",
			zap.String("topic", topic),
			zap.String("dataset", info.DatasetName),
			zap.Error(err),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: topic %s: %w", dcerrors.ErrFetchFailed, topic, err)
	}
	metrics.FetchCounter.WithLabelValues(topic, metrics.StatusSuccess).Inc()

	delivered := p.publish(ctx, topic, payload)
	span.SetAttributes(attribute.Int("deliveries", delivered))
	return payload, nil
}

// publish invokes every current handler of topic once with the payload and
// returns the number of handlers invoked.
func (p *Publisher) publish(ctx context.Context, topic string, payload Payload) int {
	subs := p.snapshot(topic)
	env := Envelope{Response: payload}
	for _, s := range subs {
		p.deliver(ctx, topic, s, env)
	}
	metrics.DeliveryCounter.WithLabelValues(topic).Add(float64(len(subs)))
	return len(subs)
}

// deliver runs one handler inside its own recover boundary so a failing
// renderer cannot keep the other subscribers from updating.
func (p *Publisher) deliver(ctx context.Context, topic string, s subscription, env Envelope) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		err := fmt.Errorf("handler panic: %v", r)
		metrics.HandlerPanicCounter.WithLabelValues("subscriber", topic).Inc()
		logger.Error(ctx, "Panic recovered in subscriber handler",
			zap.String("topic", topic),
			zap.String("owner", ownerLabel(s.owner)),
			zap.Error(err),
		)
		if p.bus != nil {
			p.bus.Emit(EventDeliveryFailed, DeliveryFailure{Topic: topic, Owner: s.owner, Err: err})
		}
	}()
	s.handler(env)
}

func ownerLabel(owner any) string {
	if s, ok := owner.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", owner)
}

// MergeParams returns a new map holding base overlaid with updates.
func MergeParams(base, updates registry.Params) registry.Params {
	out := make(registry.Params, len(base)+len(updates))
	maps.Copy(out, base)
	maps.Copy(out, updates)
	return out
}

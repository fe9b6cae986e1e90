// Package page drives one dashboard page: it registers the page's topic
// mappings, publishes the initial data, keeps per-topic params and owns the
// page's refresh intervals.
package page

import (
	"context"
	"sync"
	"time"

	"dashcore/core/config"
	dcerrors "dashcore/core/errors"
	"dashcore/core/events"
	"dashcore/core/logger"
	"dashcore/core/publisher"
	"dashcore/core/registry"
	"dashcore/core/scheduler"

	"go.uber.org/zap"
)

// MappingSpec is one topic of a page: what to fetch and how often.
// A zero RefreshInterval means the topic is only refreshed on demand.
type MappingSpec struct {
	Topic           string                     `mapstructure:"topic"`
	DatasetInfo     registry.DatasetDescriptor `mapstructure:"dataset_info"`
	RefreshInterval time.Duration              `mapstructure:"refresh_interval"`
}

// SpecsFromConfig converts configured mappings into page mapping specs.
func SpecsFromConfig(ms []config.MappingConfig) []MappingSpec {
	out := make([]MappingSpec, 0, len(ms))
	for _, m := range ms {
		out = append(out, MappingSpec{
			Topic:           m.Topic,
			DatasetInfo:     m.Mapping().DatasetInfo,
			RefreshInterval: m.RefreshInterval,
		})
	}
	return out
}

// Publisher is the part of publisher.Publisher a page needs.
type Publisher interface {
	RegisterMapping(m registry.Mapping) registry.Mapping
	UnregisterMapping(topic string)
	FetchAndPublish(ctx context.Context, topic string, page publisher.Page, paramUpdates registry.Params) (publisher.Payload, error)
}

// Page is a publisher.Page with its own mappings, params and intervals.
type Page struct {
	name  string
	pub   Publisher
	bus   events.Bus
	sched *scheduler.Scheduler

	mu       sync.Mutex
	specs    []MappingSpec
	handlers events.Handlers
	loaded   bool
}

// New returns a page named name. bus may be nil if the page registers no
// event handlers.
func New(name string, pub Publisher, bus events.Bus, specs []MappingSpec, opts ...scheduler.Option) *Page {
	p := &Page{
		name:  name,
		pub:   pub,
		bus:   bus,
		specs: append([]MappingSpec(nil), specs...),
	}
	p.sched = scheduler.New(pub, p, opts...)
	return p
}

func (p *Page) Name() string { return p.name }

// Specs returns the page's current mapping specs.
func (p *Page) Specs() []MappingSpec {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]MappingSpec(nil), p.specs...)
}

// BeforeLoad registers page-level event bus handlers. They are removed by
// Unload.
func (p *Page) BeforeLoad(handlers map[string]events.Listener) {
	if p.bus == nil || len(handlers) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handlers == nil {
		p.handlers = make(events.Handlers, len(handlers))
	}
	for event, id := range events.OnHandlers(p.bus, handlers) {
		if old, ok := p.handlers[event]; ok {
			p.bus.Off(event, old)
		}
		p.handlers[event] = id
	}
}

// Load registers every mapping, seeds empty params for each topic and
// publishes the initial data of all topics. Fetch failures are logged, not
// returned; Load waits for every initial fetch to finish. Loading an
// already loaded page does nothing.
func (p *Page) Load(ctx context.Context) {
	ctx = logger.WithComponentName(ctx, "page:"+p.name)

	p.mu.Lock()
	if p.loaded {
		p.mu.Unlock()
		logger.Debug(ctx, "Page already loaded")
		return
	}
	p.loaded = true
	specs := append([]MappingSpec(nil), p.specs...)
	p.mu.Unlock()

	for _, s := range specs {
		p.pub.RegisterMapping(registry.Mapping{Topic: s.Topic, DatasetInfo: s.DatasetInfo})
		p.sched.Add(s.Topic, s.RefreshInterval)
	}

	var wg sync.WaitGroup
	for _, s := range specs {
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			if _, err := p.pub.FetchAndPublish(ctx, topic, p, nil); err != nil {
				logger.Error(ctx, "Initial fetch failed", zap.String("topic", topic), zap.Error(err))
			}
		}(s.Topic)
	}
	wg.Wait()

	logger.Info(ctx, "Page loaded", zap.Int("mappings", len(specs)))
}

// StartAllIntervals starts the refresh timer of every topic with a positive
// interval. Calling it while intervals are running does nothing.
func (p *Page) StartAllIntervals(ctx context.Context) {
	p.sched.StartAll(logger.WithComponentName(ctx, "page:"+p.name))
}

// StopAllIntervals stops every refresh timer.
func (p *Page) StopAllIntervals() {
	p.sched.StopAll()
}

// IntervalsRunning reports whether the refresh timers are running.
func (p *Page) IntervalsRunning() bool {
	return p.sched.Running()
}

// SetParams sets the params sent with the next refresh of topic, both by
// its timer and by Refresh.
func (p *Page) SetParams(topic string, params registry.Params) {
	p.sched.SetParams(topic, params)
}

// Params returns a copy of the current params of topic.
func (p *Page) Params(topic string) registry.Params {
	return p.sched.Params(topic)
}

// Refresh fetches and publishes topic now with its current params.
func (p *Page) Refresh(ctx context.Context, topic string) error {
	ctx = logger.WithComponentName(ctx, "page:"+p.name)
	_, err := p.pub.FetchAndPublish(ctx, topic, p, p.Params(topic))
	return dcerrors.Wrap(err, "refresh "+topic)
}

// RefreshHandler returns an event listener that refreshes topic, for wiring
// a refresh button event to a topic. Errors are logged.
func (p *Page) RefreshHandler(topic string) events.Listener {
	return func(any) {
		ctx := logger.WithComponentName(context.Background(), "page:"+p.name)
		if err := p.Refresh(ctx, topic); err != nil {
			logger.Error(ctx, "Refresh failed", zap.String("topic", topic), zap.Error(err))
		}
	}
}

// Apply replaces the page's mappings. Topics that are new or changed are
// re-registered and their intervals updated; topics no longer present are
// unregistered and their timers stopped. Params are kept for topics that
// remain. Applying to a page that is not loaded only replaces the specs.
func (p *Page) Apply(specs []MappingSpec) {
	p.mu.Lock()
	old := p.specs
	p.specs = append([]MappingSpec(nil), specs...)
	loaded := p.loaded
	p.mu.Unlock()

	if !loaded {
		return
	}

	keep := make(map[string]bool, len(specs))
	for _, s := range specs {
		keep[s.Topic] = true
		p.pub.RegisterMapping(registry.Mapping{Topic: s.Topic, DatasetInfo: s.DatasetInfo})
		p.sched.Add(s.Topic, s.RefreshInterval)
	}
	for _, s := range old {
		if !keep[s.Topic] {
			p.pub.UnregisterMapping(s.Topic)
			p.sched.Remove(s.Topic)
		}
	}
	logger.Info(logger.WithComponentName(context.Background(), "page:"+p.name), "Page mappings applied", zap.Int("mappings", len(specs)))
}

// Unload stops the intervals, unregisters the page's mappings and removes
// its event handlers. The page can be loaded again afterwards.
func (p *Page) Unload() {
	p.sched.StopAll()

	p.mu.Lock()
	specs := p.specs
	handlers := p.handlers
	p.handlers = nil
	wasLoaded := p.loaded
	p.loaded = false
	p.mu.Unlock()

	if p.bus != nil {
		events.OffHandlers(p.bus, handlers)
	}
	if !wasLoaded {
		return
	}
	for _, s := range specs {
		p.pub.UnregisterMapping(s.Topic)
		p.sched.Remove(s.Topic)
	}
	logger.Info(logger.WithComponentName(context.Background(), "page:"+p.name), "Page unloaded")
}

// Package scheduler runs periodic FetchAndPublish calls for the topics of a
// page. Each topic with a positive period gets its own ticker goroutine;
// per-topic params are read fresh on every tick.
package scheduler

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"dashcore/core/logger"
	"dashcore/core/metrics"
	"dashcore/core/publisher"
	"dashcore/core/registry"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Publisher is the part of publisher.Publisher the scheduler drives.
type Publisher interface {
	FetchAndPublish(ctx context.Context, topic string, page publisher.Page, paramUpdates registry.Params) (publisher.Payload, error)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTracer sets the tracer used for tick spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Scheduler) { s.tracer = t }
}

// Scheduler owns the refresh timers of one page.
type Scheduler struct {
	pub    Publisher
	page   publisher.Page
	tracer trace.Tracer

	mu      sync.Mutex
	order   []string
	periods map[string]time.Duration
	params  map[string]registry.Params
	timers  map[string]context.CancelFunc
	runCtx  context.Context
	stopAll context.CancelFunc
}

// New returns a stopped scheduler for page.
func New(pub Publisher, page publisher.Page, opts ...Option) *Scheduler {
	s := &Scheduler{
		pub:     pub,
		page:    page,
		tracer:  otel.Tracer("dashcore-scheduler"),
		periods: make(map[string]time.Duration),
		params:  make(map[string]registry.Params),
		timers:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) pageName() string {
	if s.page == nil {
		return ""
	}
	return s.page.Name()
}

// Add configures topic with a refresh period. A period <= 0 means the topic
// is refreshed manually only. Calling Add for a known topic replaces its
// period; if the scheduler is running the topic's timer is restarted.
func (s *Scheduler) Add(topic string, period time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.periods[topic]; !ok {
		s.order = append(s.order, topic)
	}
	s.periods[topic] = period
	if _, ok := s.params[topic]; !ok {
		s.params[topic] = registry.Params{}
	}

	if s.runCtx == nil {
		return
	}
	s.stopTimerLocked(topic)
	s.startTimerLocked(topic)
	s.reportActiveLocked()
}

// Remove forgets topic and stops its timer.
func (s *Scheduler) Remove(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.periods[topic]; !ok {
		return
	}
	s.stopTimerLocked(topic)
	delete(s.periods, topic)
	delete(s.params, topic)
	for i, t := range s.order {
		if t == topic {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	s.reportActiveLocked()
}

// SetParams replaces the params sent on the next tick of topic.
func (s *Scheduler) SetParams(topic string, p registry.Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p == nil {
		p = registry.Params{}
	}
	s.params[topic] = maps.Clone(p)
}

// Params returns a copy of the current params of topic.
func (s *Scheduler) Params(topic string) registry.Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.params[topic])
}

// Topics returns the configured topics in the order they were added.
func (s *Scheduler) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// StartAll starts a timer for every topic with a positive period. It is a
// no-op when the scheduler is already running, so calling it twice never
// doubles the refresh rate.
func (s *Scheduler) StartAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runCtx != nil {
		logger.Debug(ctx, "Intervals already running", zap.String("page", s.pageName()))
		return
	}
	s.runCtx, s.stopAll = context.WithCancel(ctx)
	for _, topic := range s.order {
		s.startTimerLocked(topic)
	}
	s.reportActiveLocked()
	logger.Info(ctx, "Intervals started", zap.String("page", s.pageName()), zap.Int("timers", len(s.timers)))
}

// StopAll cancels every timer and clears the timer registry. It is safe to
// call when stopped and from inside a tick. A fetch already in flight sees
// its context cancelled; no new tick starts once StopAll returns.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runCtx == nil {
		return
	}
	for topic := range s.timers {
		s.stopTimerLocked(topic)
	}
	s.stopAll()
	s.runCtx, s.stopAll = nil, nil
	s.reportActiveLocked()
	logger.Info(context.Background(), "Intervals stopped", zap.String("page", s.pageName()))
}

// Running reports whether StartAll has been called without a matching StopAll.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCtx != nil
}

// ActiveTopics returns the topics that currently have a timer, sorted.
func (s *Scheduler) ActiveTopics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.timers))
	for t := range s.timers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (s *Scheduler) startTimerLocked(topic string) {
	period := s.periods[topic]
	if period <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(s.runCtx)
	s.timers[topic] = cancel
	go s.loop(ctx, topic, period)
}

func (s *Scheduler) stopTimerLocked(topic string) {
	if cancel, ok := s.timers[topic]; ok {
		cancel()
		delete(s.timers, topic)
	}
}

func (s *Scheduler) reportActiveLocked() {
	metrics.ActiveIntervals.WithLabelValues(s.pageName()).Set(float64(len(s.timers)))
}

func (s *Scheduler) loop(ctx context.Context, topic string, period time.Duration) {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			// Both cases may be ready at once; a cancelled timer must not tick.
			if ctx.Err() != nil {
				return
			}
			s.tick(ctx, topic)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, topic string) {
	ctx, span := s.tracer.Start(ctx, "Scheduler.Tick", trace.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("page", s.pageName()),
	))
	defer span.End()

	_, err := s.pub.FetchAndPublish(ctx, topic, s.page, s.Params(topic))
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		logger.Debug(ctx, "Tick cancelled", zap.String("topic", topic), zap.Error(err))
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	metrics.TickErrors.WithLabelValues(s.pageName(), topic).Inc()
	logger.Error(ctx, "Interval refresh failed", zap.String("topic", topic), zap.Error(err))
}

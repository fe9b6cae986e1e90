// Package kernel starts and stops the long running services of a dashcore
// process (the page driver, the mock backend, the metrics endpoint) in a
// fixed order: services start in the order they were added and stop in
// reverse.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dashcore/core/logger"
	"dashcore/core/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Service is a component the Kernel can start and stop.
// Start should return once the service is ready; Stop should honor ctx.
// Name must be unique within a Kernel.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Predefined errors for kernel operations.
var (
	ErrDuplicate      = errors.New("duplicate service name")
	ErrAlreadyRunning = errors.New("kernel already running")
	ErrNotRunning     = errors.New("kernel not running")
)

const defaultStopTimeout = 10 * time.Second

// funcService adapts a pair of functions to Service.
type funcService struct {
	name  string
	start func(ctx context.Context) error
	stop  func(ctx context.Context) error
}

// NewService returns a Service backed by start and stop. Either may be nil.
func NewService(name string, start, stop func(ctx context.Context) error) Service {
	return &funcService{name: name, start: start, stop: stop}
}

func (s *funcService) Name() string { return s.name }

func (s *funcService) Start(ctx context.Context) error {
	if s.start == nil {
		return nil
	}
	return s.start(ctx)
}

func (s *funcService) Stop(ctx context.Context) error {
	if s.stop == nil {
		return nil
	}
	return s.stop(ctx)
}

// Kernel is the ordered service supervisor.
type Kernel struct {
	tracer      trace.Tracer
	stopTimeout time.Duration

	mu       sync.Mutex
	services []Service
	started  []Service // services started by the current run, in start order
	running  bool
}

// New returns an empty, stopped Kernel.
func New() *Kernel {
	return &Kernel{
		tracer:      otel.Tracer("dashcore-kernel"),
		stopTimeout: defaultStopTimeout,
	}
}

// Add appends s to the start order. Adding while running is allowed; the
// service is started on the next Start.
func (k *Kernel) Add(s Service) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, existing := range k.services {
		if existing.Name() == s.Name() {
			return fmt.Errorf("add service %s: %w", s.Name(), ErrDuplicate)
		}
	}
	k.services = append(k.services, s)
	return nil
}

// Services returns the service names in start order.
func (k *Kernel) Services() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	names := make([]string, len(k.services))
	for i, s := range k.services {
		names[i] = s.Name()
	}
	return names
}

// Running returns true if the kernel is currently running.
func (k *Kernel) Running() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.running
}

// safelyExecute runs a function and recovers from panics, returning an error instead.
func safelyExecute(ctx context.Context, name, operation string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "Panic recovered in service",
				zap.String("service", name),
				zap.String("operation", operation),
				zap.Any("panic", r),
			)
			err = fmt.Errorf("panic in service %s during %s: %v", name, operation, r)
		}
	}()
	return fn()
}

// Start starts every service in order. If one fails, the services already
// started are stopped in reverse order and the error is returned.
func (k *Kernel) Start(ctx context.Context) error {
	k.mu.Lock()
	if k.running {
		k.mu.Unlock()
		logger.Warn(ctx, "Kernel already running, cannot start again.")
		return ErrAlreadyRunning
	}
	k.running = true
	toStart := append([]Service(nil), k.services...)
	k.mu.Unlock()

	ctx, span := k.tracer.Start(ctx, "Kernel.Start")
	defer span.End()
	logger.Info(ctx, "Starting kernel...", zap.Int("services", len(toStart)))

	var started []Service
	for _, s := range toStart {
		svcCtx, svcSpan := k.tracer.Start(ctx, "Service.Start: "+s.Name(), trace.WithAttributes(attribute.String("service.name", s.Name())))
		metrics.ServiceStartCounter.WithLabelValues(s.Name(), "attempt").Inc()
		err := safelyExecute(svcCtx, s.Name(), "Start", func() error { return s.Start(svcCtx) })
		if err != nil {
			svcSpan.RecordError(err)
			svcSpan.SetStatus(codes.Error, err.Error())
			svcSpan.End()
			metrics.ServiceStartCounter.WithLabelValues(s.Name(), "failed").Inc()
			logger.Error(ctx, "Failed to start service", zap.String("service", s.Name()), zap.Error(err))

			// best-effort stop of the services already started
			k.stopAll(context.Background(), started)
			k.mu.Lock()
			k.running = false
			k.mu.Unlock()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("start service %s: %w", s.Name(), err)
		}
		metrics.ServiceStartCounter.WithLabelValues(s.Name(), "success").Inc()
		logger.Info(ctx, "Service started", zap.String("service", s.Name()))
		svcSpan.End()
		started = append(started, s)
	}

	k.mu.Lock()
	k.started = started
	k.mu.Unlock()
	logger.Info(ctx, "Kernel started successfully.")
	return nil
}

// Stop stops the started services in reverse order. Every service is
// stopped even if an earlier one fails; the first error is returned.
func (k *Kernel) Stop(ctx context.Context) error {
	k.mu.Lock()
	if !k.running {
		k.mu.Unlock()
		logger.Warn(ctx, "Kernel not running, cannot stop.")
		return ErrNotRunning
	}
	k.running = false
	toStop := k.started
	k.started = nil
	k.mu.Unlock()

	ctx, span := k.tracer.Start(ctx, "Kernel.Stop")
	defer span.End()
	logger.Info(ctx, "Stopping kernel...")

	err := k.stopAll(ctx, toStop)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	logger.Info(ctx, "Kernel stopped.")
	return err
}

func (k *Kernel) stopAll(ctx context.Context, services []Service) error {
	var firstErr error
	for i := len(services) - 1; i >= 0; i-- {
		s := services[i]
		stopCtx, cancel := context.WithTimeout(ctx, k.stopTimeout)
		svcCtx, svcSpan := k.tracer.Start(stopCtx, "Service.Stop: "+s.Name(), trace.WithAttributes(attribute.String("service.name", s.Name())))
		metrics.ServiceStopCounter.WithLabelValues(s.Name(), "attempt").Inc()
		err := safelyExecute(svcCtx, s.Name(), "Stop", func() error { return s.Stop(svcCtx) })
		cancel()
		if err != nil {
			svcSpan.RecordError(err)
			svcSpan.SetStatus(codes.Error, err.Error())
			metrics.ServiceStopCounter.WithLabelValues(s.Name(), "failed").Inc()
			logger.Error(ctx, "Failed to stop service", zap.String("service", s.Name()), zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("stop service %s: %w", s.Name(), err)
			}
		} else {
			metrics.ServiceStopCounter.WithLabelValues(s.Name(), "success").Inc()
			logger.Info(ctx, "Service stopped", zap.String("service", s.Name()))
		}
		svcSpan.End()
	}
	return firstErr
}

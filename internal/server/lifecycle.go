// Package server provides process lifecycle management: ordered startup,
// signal handling and reverse-order graceful shutdown of the duel server's
// long-running components.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Service represents a long-running component that can be started and stopped.
type Service interface {
	// Start runs the service. It blocks until the service is stopped or
	// fails; returning nil after Stop is a clean exit.
	Start() error
	// Stop asks the service to finish and release its resources.
	Stop()
}

// FuncService adapts a start/stop function pair into the Service interface.
// A nil StartFn blocks until Stop is called.
type FuncService struct {
	StartFn func() error
	StopFn  func()

	once sync.Once
	done chan struct{}
}

func (f *FuncService) init() { f.once.Do(func() { f.done = make(chan struct{}) }) }

// Start calls the underlying start function.
func (f *FuncService) Start() error {
	f.init()
	if f.StartFn == nil {
		<-f.done
		return nil
	}
	return f.StartFn()
}

// Stop calls the underlying stop function.
func (f *FuncService) Stop() {
	f.init()
	select {
	case <-f.done:
		return
	default:
		close(f.done)
	}
	if f.StopFn != nil {
		f.StopFn()
	}
}

// Lifecycle manages the startup and shutdown of multiple services.
// Services are started in order and stopped in reverse order.
type Lifecycle struct {
	logger      *zap.Logger
	stopTimeout time.Duration
	signals     []os.Signal

	mu       sync.Mutex
	services []namedService
}

type namedService struct {
	name    string
	service Service
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithStopTimeout bounds how long shutdown waits for each service's Stop.
// A service that overruns is logged and abandoned.
func WithStopTimeout(d time.Duration) Option {
	return func(l *Lifecycle) { l.stopTimeout = d }
}

// WithSignals replaces the signals that trigger shutdown. Passing none
// disables signal handling, leaving only context cancellation and service
// failure.
func WithSignals(sigs ...os.Signal) Option {
	return func(l *Lifecycle) { l.signals = sigs }
}

// NewLifecycle creates a new Lifecycle manager.
//
// Precondition: logger must be non-nil.
func NewLifecycle(logger *zap.Logger, opts ...Option) *Lifecycle {
	l := &Lifecycle{
		logger:      logger,
		stopTimeout: 10 * time.Second,
		signals:     []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Add registers a named service for lifecycle management.
// Services are started in the order they are added.
//
// Precondition: name must be non-empty; svc must be non-nil.
func (l *Lifecycle) Add(name string, svc Service) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.services = append(l.services, namedService{name: name, service: svc})
}

// Run starts all services and blocks until a termination signal arrives,
// ctx is cancelled, or a service fails. Services are then stopped in
// reverse order.
//
// Postcondition: All services have been asked to stop when this method
// returns. The error is the first service failure, or nil for a signal or
// cancellation.
func (l *Lifecycle) Run(ctx context.Context) error {
	start := time.Now()

	l.mu.Lock()
	services := append([]namedService(nil), l.services...)
	l.mu.Unlock()

	errCh := make(chan error, len(services))
	for _, ns := range services {
		go func() {
			l.logger.Info("starting service", zap.String("service", ns.name))
			svcStart := time.Now()
			if err := ns.service.Start(); err != nil {
				l.logger.Error("service failed",
					zap.String("service", ns.name),
					zap.Error(err),
					zap.Duration("uptime", time.Since(svcStart)),
				)
				errCh <- fmt.Errorf("service %s: %w", ns.name, err)
			}
		}()
	}

	l.logger.Info("all services started",
		zap.Int("count", len(services)),
		zap.Duration("startup", time.Since(start)),
	)

	sigCh := make(chan os.Signal, 1)
	if len(l.signals) > 0 {
		signal.Notify(sigCh, l.signals...)
		defer signal.Stop(sigCh)
	}

	var runErr error
	select {
	case sig := <-sigCh:
		l.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case runErr = <-errCh:
		l.logger.Error("service error, shutting down", zap.Error(runErr))
	case <-ctx.Done():
		l.logger.Info("context cancelled, shutting down")
	}

	l.shutdown(services)

	l.logger.Info("shutdown complete", zap.Duration("total_uptime", time.Since(start)))
	return runErr
}

func (l *Lifecycle) shutdown(services []namedService) {
	shutdownStart := time.Now()
	for i := len(services) - 1; i >= 0; i-- {
		ns := services[i]
		svcStart := time.Now()
		l.logger.Info("stopping service", zap.String("service", ns.name))

		done := make(chan struct{})
		go func() {
			defer close(done)
			ns.service.Stop()
		}()
		select {
		case <-done:
			l.logger.Info("service stopped",
				zap.String("service", ns.name),
				zap.Duration("elapsed", time.Since(svcStart)),
			)
		case <-time.After(l.stopTimeout):
			l.logger.Warn("service did not stop in time",
				zap.String("service", ns.name),
				zap.Duration("timeout", l.stopTimeout),
			)
		}
	}
	l.logger.Info("all services stopped",
		zap.Duration("shutdown_elapsed", time.Since(shutdownStart)),
	)
}

// ABOUTME: Background runtime that owns the gateway service and event consumer
// ABOUTME: Synchronous host code submits work to one worker goroutine and waits with a timeout

package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrStopped is returned for work submitted after Stop.
	ErrStopped = errors.New("runtime stopped")

	// ErrNotStarted is returned for work submitted before Start.
	ErrNotStarted = errors.New("runtime not started")

	// ErrCallTimeout is returned when Call gives up waiting.
	ErrCallTimeout = errors.New("runtime call timed out")
)

// Service is the long-running connection loop.
type Service interface {
	Run(ctx context.Context) error
}

// Stopper is implemented by the orchestrator.
type Stopper interface {
	Stop()
}

// Components are the parts a Runtime drives.
type Components struct {
	Service      Service
	Consumer     func(ctx context.Context) error
	Orchestrator Stopper
}

type task struct {
	fn     func(ctx context.Context) error
	result chan error // nil for Submit
}

// Runtime runs the components in the background and serializes submitted
// work on a single worker goroutine.
type Runtime struct {
	parts     Components
	logger    *slog.Logger
	queueSize int

	mu      sync.Mutex
	started bool
	stopped bool
	tasks   chan task

	workerCancel   context.CancelFunc
	serviceCancel  context.CancelFunc
	consumerCancel context.CancelFunc
	workerDone     chan struct{}
	serviceDone    chan struct{}
	consumerDone   chan struct{}

	stopOnce sync.Once
}

// New creates a Runtime. Nil components are skipped.
func New(parts Components, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		parts:     parts,
		logger:    logger.With("component", "runtime"),
		queueSize: 64,
	}
}

// Start launches the worker, the service and the consumer.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ErrStopped
	}
	if r.started {
		return errors.New("runtime already started")
	}
	r.started = true
	r.tasks = make(chan task, r.queueSize)

	var workerCtx, serviceCtx, consumerCtx context.Context
	workerCtx, r.workerCancel = context.WithCancel(ctx)
	serviceCtx, r.serviceCancel = context.WithCancel(ctx)
	consumerCtx, r.consumerCancel = context.WithCancel(ctx)

	r.workerDone = r.spawn("worker", func() error { r.work(workerCtx); return nil })
	r.serviceDone = r.spawn("service", func() error {
		if r.parts.Service == nil {
			return nil
		}
		return r.parts.Service.Run(serviceCtx)
	})
	r.consumerDone = r.spawn("consumer", func() error {
		if r.parts.Consumer == nil {
			return nil
		}
		return r.parts.Consumer(consumerCtx)
	})

	r.logger.Info("runtime started")
	return nil
}

func (r *Runtime) spawn(name string, fn func() error) chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("runtime goroutine exited", "part", name, "error", err)
		}
	}()
	return done
}

func (r *Runtime) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-r.tasks:
			err := runTask(ctx, t.fn)
			if t.result != nil {
				t.result <- err
			} else if err != nil {
				r.logger.Warn("submitted task failed", "error", err)
			}
		}
	}
}

// runTask converts a panic in fn into an error so the worker survives.
func runTask(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()
	return fn(ctx)
}

func (r *Runtime) queue() (chan task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.stopped:
		return nil, ErrStopped
	case !r.started:
		return nil, ErrNotStarted
	}
	return r.tasks, nil
}

// Call runs fn on the worker and waits up to timeout for it to finish.
// On timeout fn may still run later.
func (r *Runtime) Call(timeout time.Duration, fn func(ctx context.Context) error) error {
	tasks, err := r.queue()
	if err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	result := make(chan error, 1)
	select {
	case tasks <- task{fn: fn, result: result}:
	case <-r.workerDone:
		return ErrStopped
	case <-timer.C:
		return ErrCallTimeout
	}

	select {
	case err := <-result:
		return err
	case <-r.workerDone:
		return ErrStopped
	case <-timer.C:
		return ErrCallTimeout
	}
}

// Submit queues fn without waiting for it.
func (r *Runtime) Submit(fn func(ctx context.Context) error) error {
	tasks, err := r.queue()
	if err != nil {
		return err
	}
	select {
	case tasks <- task{fn: fn}:
		return nil
	case <-r.workerDone:
		return ErrStopped
	}
}

// Stop cancels the consumer, stops the orchestrator, then the service and
// finally the worker, waiting for each. Safe to call repeatedly.
func (r *Runtime) Stop() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.stopped = true
		started := r.started
		r.mu.Unlock()

		if !started {
			return
		}

		r.consumerCancel()
		<-r.consumerDone

		if r.parts.Orchestrator != nil {
			r.parts.Orchestrator.Stop()
		}

		r.serviceCancel()
		<-r.serviceDone

		r.workerCancel()
		<-r.workerDone

		r.logger.Info("runtime stopped")
	})
}

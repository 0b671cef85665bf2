package bg

import (
	"context"
	"sync"
	"time"

	"pobbin/metrics"
	"pobbin/svc/util"

	"github.com/pkg/errors"
)

var ErrClosed = errors.New("background registry closed")

// Registry runs detached tasks that must finish even after the request that
// scheduled them has returned. The host drains it before exiting.
type Registry struct {
	timeout time.Duration
	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
}

func New(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Registry{timeout: timeout}
}

// Go runs fn with a context that keeps the values of parent but not its
// cancellation. It returns ErrClosed once Drain has started.
func (r *Registry) Go(parent context.Context, name string, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		util.Ctx(parent).Warn().Str("task", name).Msg("background task rejected, shutting down")
		metrics.BackgroundTasks.WithLabelValues(name, "rejected").Inc()
		return ErrClosed
	}
	r.wg.Add(1)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.timeout)
	go func() {
		defer r.wg.Done()
		defer cancel()
		r.run(ctx, name, fn)
	}()
	return nil
}

func (r *Registry) run(ctx context.Context, name string, fn func(ctx context.Context) error) {
	log := util.Ctx(ctx)
	start := time.Now()
	defer func() {
		if rvr := recover(); rvr != nil {
			log.Error().Interface("panic", rvr).Str("task", name).Msg("background task panicked")
			metrics.BackgroundTasks.WithLabelValues(name, "panic").Inc()
		}
	}()
	if err := fn(ctx); err != nil {
		log.Warn().Err(err).Str("task", name).Dur("duration", time.Since(start)).Msg("background task failed")
		metrics.BackgroundTasks.WithLabelValues(name, "error").Inc()
		return
	}
	log.Debug().Str("task", name).Dur("duration", time.Since(start)).Msg("background task done")
	metrics.BackgroundTasks.WithLabelValues(name, "ok").Inc()
}

// Wait blocks until every scheduled task has returned.
func (r *Registry) Wait() {
	r.wg.Wait()
}

// Drain stops accepting tasks and waits for running ones until ctx is done.
func (r *Registry) Drain(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "drain background tasks")
	}
}

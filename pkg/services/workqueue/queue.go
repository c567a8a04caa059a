// Package workqueue runs named tasks with bounded concurrency.
package workqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pool runs tasks with at most a fixed number in flight. A failing task does
// not stop its siblings; Wait reports every failure.
type Pool struct {
	ctx    context.Context
	slots  chan struct{}
	wg     sync.WaitGroup
	logger *zap.Logger

	mu   sync.Mutex
	errs []error
}

// Option configures a Pool.
type Option func(*Pool)

// WithConcurrency bounds the number of tasks running at once. Values below 1
// serialize the pool.
func WithConcurrency(n int) Option {
	return func(p *Pool) {
		if n < 1 {
			n = 1
		}
		p.slots = make(chan struct{}, n)
	}
}

// New creates a pool that runs one task at a time unless configured otherwise.
// ctx bounds every task; tasks still waiting for a slot when it is done never start.
func New(ctx context.Context, logger *zap.Logger, opts ...Option) *Pool {
	p := &Pool{
		ctx:    ctx,
		slots:  make(chan struct{}, 1),
		logger: logger.Named("workqueue"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Go schedules fn under name without blocking the caller.
func (p *Pool) Go(name string, fn func(ctx context.Context) error) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		select {
		case p.slots <- struct{}{}:
		case <-p.ctx.Done():
			p.fail(name, p.ctx.Err())
			return
		}
		defer func() { <-p.slots }()

		if err := p.ctx.Err(); err != nil {
			p.fail(name, err)
			return
		}

		start := time.Now()
		if err := fn(p.ctx); err != nil {
			p.logger.Warn("Task failed",
				zap.String("task", name),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err))
			p.fail(name, err)
			return
		}
		p.logger.Debug("Task finished",
			zap.String("task", name),
			zap.Duration("elapsed", time.Since(start)))
	}()
}

func (p *Pool) fail(name string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs = append(p.errs, fmt.Errorf("%s: %w", name, err))
}

// Wait blocks until every scheduled task has returned and joins their errors.
// It returns ctx.Err() if ctx is done first; running tasks are not interrupted.
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return errors.Join(p.errs...)
}

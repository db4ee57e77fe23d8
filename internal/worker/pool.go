// Package worker runs blocking, CPU-bound tasks on a bounded set of goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/hyperjump/embedder/internal/apierror"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrClosed is the cause reported for tasks submitted after Close.
var ErrClosed = errors.New("worker pool is closed")

// Pool bounds how many tasks run at once. Tasks that cannot start wait in FIFO order.
type Pool struct {
	size    int
	sem     *semaphore.Weighted
	logger  *zap.Logger
	onQueue func(time.Duration)

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Pool.
type Option func(*Pool)

// WithQueueObserver reports how long each task waited for a worker.
func WithQueueObserver(fn func(time.Duration)) Option {
	return func(p *Pool) { p.onQueue = fn }
}

// NewPool returns a pool of size workers; size <= 0 uses GOMAXPROCS.
func NewPool(size int, logger *zap.Logger, opts ...Option) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		size:   size,
		sem:    semaphore.NewWeighted(int64(size)),
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

type result[T any] struct {
	value T
	err   error
}

// Do runs fn on a worker and waits for its result. Errors returned by fn pass
// through unchanged. A closed pool, a ctx cancelled while queued, or a panic in
// fn yields a ConcurrencyError. Once fn has started it always runs to completion.
func Do[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	var zero T

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return zero, apierror.Concurrency(ErrClosed)
	}
	p.wg.Add(1)
	p.mu.RUnlock()

	queued := time.Now()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.wg.Done()
		return zero, apierror.Concurrency(err)
	}
	if p.onQueue != nil {
		p.onQueue(time.Since(queued))
	}

	ch := make(chan result[T], 1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("worker task panicked", zap.Any("panic", r))
				ch <- result[T]{err: apierror.Concurrency(fmt.Errorf("worker task panicked: %v", r))}
			}
		}()
		v, err := fn()
		ch <- result[T]{value: v, err: err}
	}()
	res := <-ch
	return res.value, res.err
}

// Close rejects new tasks and waits for queued and running ones, or until ctx is done.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Package threadpool implements the bounded worker pool used to run
// per-root scans and search match shards concurrently without spawning an
// unbounded number of goroutines.
package threadpool

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrent task execution to a fixed number of slots,
// using a weighted semaphore rather than a fixed goroutine count so a
// single caller can still submit many more tasks than there are slots
// and have them queue for admission.
type Pool struct {
	sem  *semaphore.Weighted
	size int64
}

// New returns a Pool with the given number of concurrent slots. A
// non-positive size is treated as 1.
func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: int64(size)}
}

// Size reports the pool's concurrency limit.
func (p *Pool) Size() int { return int(p.size) }

// Submit blocks until a slot is free (or ctx is cancelled), then runs fn
// in a new goroutine. It returns immediately after starting fn; use Run
// instead when the caller needs to wait for completion.
func (p *Pool) Submit(ctx context.Context, fn func(context.Context)) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	go func() {
		defer p.sem.Release(1)
		fn(ctx)
	}()
	return nil
}

// Run executes fns concurrently, bounded by the pool's size, and
// returns the first error encountered (if any), cancelling the shared
// context for the remaining in-flight tasks.
func (p *Pool) Run(ctx context.Context, fns ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, fn := range fns {
		fn := fn
		if err := p.sem.Acquire(gctx, 1); err != nil {
			return err
		}
		g.Go(func() error {
			defer p.sem.Release(1)
			return fn(gctx)
		})
	}
	return g.Wait()
}

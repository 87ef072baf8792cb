// Package workers provides the bounded pool that runs blocking storage I/O
// (ban and dedup persistence, cache writes) off the request goroutines.
//
// A submitted operation always runs to completion, even when the caller's
// context is cancelled while waiting: the caller stops waiting, the state
// mutation still lands. This is what keeps a ban decision from being lost
// when the enclosing request is abandoned.
package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/tbourn/go-media-gate/internal/observability"
)

// ErrClosed is returned by Do after Close has been called.
var ErrClosed = errors.New("workers: pool closed")

// Pool bounds the number of concurrently running storage operations.
type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New returns a pool admitting at most size concurrent operations.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Do runs fn on the pool and waits for its result. fn receives a context
// that carries ctx's values but not its cancellation. If ctx is done before
// fn finishes, Do returns ctx.Err() and fn keeps running in the background.
// A panic in fn is converted to an error.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrClosed
	}
	p.wg.Add(1)
	p.mu.RUnlock()

	done := make(chan error, 1)
	go func() {
		defer p.wg.Done()
		work := context.WithoutCancel(ctx)
		// Acquire with the detached context; the operation must run even if
		// the caller has already gone.
		_ = p.sem.Acquire(work, 1)
		defer p.sem.Release(1)

		observability.PoolInflight.Inc()
		defer observability.PoolInflight.Dec()

		done <- run(work, fn)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Go submits fn without waiting for it. Errors are passed to onErr when it
// is non-nil.
func (p *Pool) Go(ctx context.Context, fn func(context.Context) error, onErr func(error)) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		if onErr != nil {
			onErr(ErrClosed)
		}
		return
	}
	p.wg.Add(1)
	p.mu.RUnlock()

	go func() {
		defer p.wg.Done()
		work := context.WithoutCancel(ctx)
		_ = p.sem.Acquire(work, 1)
		defer p.sem.Release(1)

		observability.PoolInflight.Inc()
		defer observability.PoolInflight.Dec()

		if err := run(work, fn); err != nil && onErr != nil {
			onErr(err)
		}
	}()
}

// Close stops accepting work and waits for in-flight operations, or for ctx.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	idle := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func run(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workers: panic: %v", r)
		}
	}()
	return fn(ctx)
}

package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrPoolShutdown is returned when a task is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("task pool is shut down")

// PoolMetrics is a snapshot of pool activity.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Panics    int64 `json:"panics"`
}

// TaskPool bounds the number of concurrently in-flight step tasks. Submit
// blocks when the pool is at capacity, giving the scheduler backpressure.
type TaskPool struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	done   chan struct{}
	mu     sync.Mutex
	closed bool

	active    atomic.Int64
	completed atomic.Int64
	panics    atomic.Int64
}

// NewTaskPool creates a pool running at most size tasks at once.
func NewTaskPool(size int) *TaskPool {
	if size <= 0 {
		size = 1
	}
	return &TaskPool{
		sem:  make(chan struct{}, size),
		done: make(chan struct{}),
	}
}

// Submit starts fn on its own goroutine once a slot is free. It blocks while
// the pool is at capacity, respecting context cancellation and shutdown.
func (p *TaskPool) Submit(ctx context.Context, fn func(ctx context.Context)) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolShutdown
	}
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolShutdown
	}

	// Re-check closed after acquiring the slot; wg.Add must happen under the
	// lock so Shutdown's wg.Wait cannot race it.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	p.active.Add(1)
	p.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.panics.Add(1)
			}
			p.active.Add(-1)
			p.completed.Add(1)
			<-p.sem
			p.wg.Done()
		}()
		fn(ctx)
	}()
	return nil
}

// Wait blocks until every submitted task has finished.
func (p *TaskPool) Wait() {
	p.wg.Wait()
}

// Shutdown stops accepting tasks and waits for in-flight ones to finish.
func (p *TaskPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()
	p.wg.Wait()
}

// Metrics returns a snapshot of pool counters.
func (p *TaskPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Panics:    p.panics.Load(),
	}
}

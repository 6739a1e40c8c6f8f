// Package worker runs a batch of independent tasks with a bounded number in
// flight at once.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"wallet-engine/internal/metrics"

	"golang.org/x/sync/semaphore"
)

// PanicError a task panicked; the pool recovered it
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Task one unit of work, identified by its index in the batch
type Task func(ctx context.Context, i int) error

// Pool fixed-size permit pool
type Pool struct {
	size   int
	active atomic.Int64
	peak   atomic.Int64
}

// New pool allowing size tasks at once; size below 1 is treated as 1
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{size: size}
}

// Size configured maximum concurrency
func (p *Pool) Size() int {
	return p.size
}

// Active tasks running right now
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Peak highest concurrency observed since the pool was created
func (p *Pool) Peak() int {
	return int(p.peak.Load())
}

// Run starts n tasks, at most min(n, Size()) at a time, and waits for all of
// them. errs[i] is task i's error. A panic becomes a *PanicError for that
// task only. Tasks that never got a permit because ctx ended report ctx.Err().
func (p *Pool) Run(ctx context.Context, n int, task Task) []error {
	errs := make([]error, n)
	if n == 0 {
		return errs
	}

	limit := p.size
	if n < limit {
		limit = n
	}
	gate := semaphore.NewWeighted(int64(limit))

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := gate.Acquire(ctx, 1); err != nil {
				errs[i] = err
				return
			}
			defer gate.Release(1)
			errs[i] = p.run(ctx, i, task)
		}(i)
	}
	wg.Wait()
	return errs
}

func (p *Pool) run(ctx context.Context, i int, task Task) (err error) {
	now := p.active.Add(1)
	metrics.WorkersActive.Inc()
	for {
		peak := p.peak.Load()
		if now <= peak || p.peak.CompareAndSwap(peak, now) {
			break
		}
	}
	defer func() {
		p.active.Add(-1)
		metrics.WorkersActive.Dec()
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()

	return task(ctx, i)
}

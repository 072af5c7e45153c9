package pipeline

import (
	"context"
	"sync"
)

// Task is one blocking work unit offloaded to the pool.
type Task func(ctx context.Context) error

type submission struct {
	ctx  context.Context
	task Task
	done chan error
}

// Future resolves when its submitted task completes.
type Future struct {
	done chan error
}

// Wait blocks until the task finishes or ctx is cancelled. A task already
// picked up by a worker keeps running; only the wait is abandoned.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case err := <-f.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pool runs blocking and CPU-bound work on a fixed set of worker goroutines
// so the request-handling path never performs file I/O, subprocess execution
// or model inference directly. Submissions beyond capacity queue.
type Pool struct {
	tasks chan submission
	wg    sync.WaitGroup
}

func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	p := &Pool{tasks: make(chan submission)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for sub := range p.tasks {
		if err := sub.ctx.Err(); err != nil {
			sub.done <- err
			continue
		}
		sub.done <- sub.task(sub.ctx)
	}
}

// Submit hands task to the pool and returns a Future the caller awaits.
// Enqueueing blocks while all workers are busy unless ctx is cancelled first.
func (p *Pool) Submit(ctx context.Context, task Task) *Future {
	f := &Future{done: make(chan error, 1)}
	select {
	case p.tasks <- submission{ctx: ctx, task: task, done: f.done}:
	case <-ctx.Done():
		f.done <- ctx.Err()
	}
	return f
}

// Do offloads task to the pool and awaits its completion.
func (p *Pool) Do(ctx context.Context, task Task) error {
	return p.Submit(ctx, task).Wait(ctx)
}

// Close stops accepting work and waits for in-flight tasks to drain.
// Submitting after Close is a programming error.
func (p *Pool) Close() {
	close(p.tasks)
	p.wg.Wait()
}

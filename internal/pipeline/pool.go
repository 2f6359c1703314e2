package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sync"
)

// Task is a unit of work executed by the pool. Run must return exactly
// one ChunkOutcome; Index attributes pool-level faults to the right chunk.
type Task interface {
	// Index returns the chunk index this task processes.
	Index() int
	// Run executes the task to completion and returns its outcome.
	Run(ctx context.Context) ChunkOutcome
}

// Handle resolves to the outcome of a submitted task. It is created by
// Submit and resolved exactly once by the worker that ran the task.
type Handle struct {
	done    chan struct{}
	outcome ChunkOutcome
}

// Wait blocks until the task has finished and returns its outcome.
// Wait may be called multiple times; every call returns the same outcome.
func (h *Handle) Wait() ChunkOutcome {
	<-h.done
	return h.outcome
}

type submission struct {
	ctx    context.Context
	task   Task
	handle *Handle
}

// WorkerPool is a fixed-size pool of reusable workers. Workers pull from
// a shared queue and execute one task to completion before pulling the
// next. Submission order is not completion order.
//
// The queue is unbounded: Submit appends and returns immediately, even
// when every worker is busy on a long denoise call, so a dispatcher can
// enqueue all chunks up front without stalling on in-flight work.
//
// Once submitted, a task always runs to completion: Shutdown drains the
// queue and waits for in-flight work, and a panic inside a task is
// captured and surfaced as a failed ChunkOutcome rather than crashing
// the pool or dropping the task.
type WorkerPool struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	ready   *sync.Cond
	backlog []submission
	closed  bool
}

// NewWorkerPool starts a pool with the given number of workers.
// A non-positive count defaults to runtime.NumCPU().
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	p := &WorkerPool{}
	p.ready = sync.NewCond(&p.mu)

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}

	return p
}

// Submit enqueues a task and returns a handle that resolves to the
// task's outcome. Submit never waits on in-flight work; it returns as
// soon as the task is queued. Submitting to a pool after Shutdown
// panics; callers own the pool lifecycle.
//
// The task runs under a context detached from ctx's cancellation:
// once dispatched, a chunk is always accounted for, even if the caller
// goes away before it finishes.
func (p *WorkerPool) Submit(ctx context.Context, task Task) *Handle {
	h := &Handle{done: make(chan struct{})}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		panic("pipeline: Submit on a shut-down WorkerPool")
	}
	p.backlog = append(p.backlog, submission{ctx: context.WithoutCancel(ctx), task: task, handle: h})
	p.mu.Unlock()
	p.ready.Signal()

	return h
}

// Shutdown stops accepting work and blocks until every queued and
// in-flight task has finished. No task is abandoned mid-execution.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.ready.Broadcast()

	p.wg.Wait()
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for {
		sub, ok := p.next()
		if !ok {
			return
		}
		sub.handle.outcome = runTask(sub.ctx, sub.task)
		close(sub.handle.done)
	}
}

// next pops the oldest queued submission, waiting for one to arrive.
// It returns ok=false once the pool is closed and the backlog is empty.
func (p *WorkerPool) next() (submission, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.backlog) == 0 {
		if p.closed {
			return submission{}, false
		}
		p.ready.Wait()
	}

	sub := p.backlog[0]
	p.backlog = p.backlog[1:]
	return sub, true
}

// runTask executes one task, converting a panic into a failed outcome so
// an internal fault travels through the same channel as a processing
// failure. The handle must resolve no matter what the task did.
func runTask(ctx context.Context, task Task) (outcome ChunkOutcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = ChunkOutcome{
				Index:      task.Index(),
				Succeeded:  false,
				Diagnostic: fmt.Sprintf("chunk %d: internal fault: %v", task.Index(), r),
			}
		}
	}()

	return task.Run(ctx)
}

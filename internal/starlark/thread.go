package starlark

import (
	"context"
	"sync"

	"github.com/leapstack-labs/execsrc/internal/capture"
	"go.starlark.net/starlark"
	"golang.org/x/sync/errgroup"
)

// ThreadPool manages a pool of Starlark threads for parallel execution.
type ThreadPool struct {
	mu        sync.Mutex
	threads   []*starlark.Thread
	maxSize   int
	newThread func(name string) *starlark.Thread
}

// NewThreadPool creates a new thread pool with the specified maximum size.
// newThread builds threads when the pool is empty; nil means a thread with a no-op print.
func NewThreadPool(maxSize int, newThread func(name string) *starlark.Thread) *ThreadPool {
	if maxSize <= 0 {
		maxSize = 10 // default pool size
	}
	if newThread == nil {
		newThread = func(name string) *starlark.Thread {
			return &starlark.Thread{Name: name, Print: func(_ *starlark.Thread, _ string) {}}
		}
	}
	return &ThreadPool{
		threads:   make([]*starlark.Thread, 0, maxSize),
		maxSize:   maxSize,
		newThread: newThread,
	}
}

// Get retrieves a thread from the pool or creates a new one.
// The thread name is used for error reporting.
func (p *ThreadPool) Get(name string) *starlark.Thread {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.threads) > 0 {
		thread := p.threads[len(p.threads)-1]
		p.threads = p.threads[:len(p.threads)-1]
		thread.Name = name
		return thread
	}

	return p.newThread(name)
}

// Put returns a thread to the pool for reuse.
// If the pool is full, the thread is discarded.
func (p *ThreadPool) Put(thread *starlark.Thread) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.threads) < p.maxSize {
		// ambient namespaces must not leak between executions
		thread.Name = ""
		capture.SetAmbient(thread, nil)
		p.threads = append(p.threads, thread)
	}
}

// Size returns the current number of threads in the pool.
func (p *ThreadPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.threads)
}

// ExecTask is a single script to execute.
type ExecTask struct {
	Name   string // Filename used for error reporting
	Source any    // Script source: string, []byte or io.Reader
}

// ExecResult is the outcome of one ExecTask.
type ExecResult struct {
	Name    string
	Globals starlark.StringDict
	Error   error
}

// ParallelExecutor executes multiple scripts in parallel, each against its own globals.
type ParallelExecutor struct {
	ctx     *ExecutionContext
	pool    *ThreadPool
	workers int
}

// NewParallelExecutor creates a new parallel executor bounded to maxConcurrency workers.
func NewParallelExecutor(maxConcurrency int, ctx *ExecutionContext) *ParallelExecutor {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &ParallelExecutor{
		ctx:     ctx,
		pool:    NewThreadPool(maxConcurrency, ctx.NewThread),
		workers: maxConcurrency,
	}
}

// Execute runs tasks and collects results in task order. Script failures are
// reported per result; a cancelled context marks the tasks that never started.
func (e *ParallelExecutor) Execute(ctx context.Context, tasks []ExecTask) []ExecResult {
	results := make([]ExecResult, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i, task := range tasks {
		results[i].Name = task.Name
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i].Error = err
				return nil
			}

			thread := e.pool.Get(task.Name)
			defer e.pool.Put(thread)

			globals := e.ctx.Globals()
			err := capture.Exec(thread, capture.Request{
				Filename: task.Name,
				Source:   task.Source,
				Globals:  capture.StringDict(globals),
			})
			results[i].Globals = globals
			if err != nil {
				results[i].Error = &ExecError{File: task.Name, Err: err}
			}
			return nil
		})
	}

	_ = g.Wait()
	return results
}

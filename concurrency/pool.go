package concurrency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrPoolStopped is returned by Submit once Stop has been called
var ErrPoolStopped = errors.New("worker pool stopped")

// DefaultWorkers is used when a non-positive size is requested
const DefaultWorkers = 4

// WorkerPool bounds how many job runs execute at once
type WorkerPool struct {
	size  int
	tasks chan func()
	wg    sync.WaitGroup

	// Submit holds the read lock while queueing so Stop never closes the
	// queue under a pending send
	mu      sync.RWMutex
	started bool
	stopped bool

	active atomic.Int32

	// OnActiveChange, when set, receives the number of executing tasks
	// every time it changes
	OnActiveChange func(active int)
}

// NewWorkerPool creates a pool of size workers
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = DefaultWorkers
	}
	return &WorkerPool{
		size:  size,
		tasks: make(chan func(), size*2),
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (p *WorkerPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.stopped {
		return
	}
	p.started = true

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()

	for task := range p.tasks {
		p.run(task)
	}
}

func (p *WorkerPool) run(task func()) {
	p.notify(p.active.Add(1))
	defer func() { p.notify(p.active.Add(-1)) }()
	task()
}

func (p *WorkerPool) notify(active int32) {
	if p.OnActiveChange != nil {
		p.OnActiveChange(int(active))
	}
}

// Submit queues task, blocking while the queue is full. Before Start the
// task runs synchronously on the caller's goroutine.
func (p *WorkerPool) Submit(ctx context.Context, task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrPoolStopped
	}
	if !p.started {
		p.run(task)
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.tasks <- task:
		return nil
	}
}

// Stop refuses new tasks, lets the workers drain the queue and waits for
// them until ctx is done
func (p *WorkerPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.tasks)
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

// QueueLength returns the number of tasks waiting for a worker
func (p *WorkerPool) QueueLength() int {
	return len(p.tasks)
}

// Active returns the number of tasks currently executing
func (p *WorkerPool) Active() int {
	return int(p.active.Load())
}

// Size returns the number of workers
func (p *WorkerPool) Size() int {
	return p.size
}

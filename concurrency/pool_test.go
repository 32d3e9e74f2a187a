package concurrency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewWorkerPool(t *testing.T) {
	if got := NewWorkerPool(5).Size(); got != 5 {
		t.Errorf("Size() = %d, want 5", got)
	}
	if got := NewWorkerPool(0).Size(); got != DefaultWorkers {
		t.Errorf("Size() = %d, want default %d", got, DefaultWorkers)
	}
}

func TestWorkerPoolExecutesTasks(t *testing.T) {
	pool := NewWorkerPool(3)
	pool.Start()

	var counter int32
	for i := 0; i < 10; i++ {
		if err := pool.Submit(context.Background(), func() { atomic.AddInt32(&counter, 1) }); err != nil {
			t.Fatalf("Submit() error: %v", err)
		}
	}

	if err := pool.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if got := atomic.LoadInt32(&counter); got != 10 {
		t.Errorf("executed %d tasks, want 10", got)
	}
}

func TestWorkerPoolConcurrencyLimit(t *testing.T) {
	const size = 2
	pool := NewWorkerPool(size)

	var mu sync.Mutex
	maxActive := 0
	pool.OnActiveChange = func(active int) {
		mu.Lock()
		defer mu.Unlock()
		if active > maxActive {
			maxActive = active
		}
	}
	pool.Start()

	for i := 0; i < 8; i++ {
		pool.Submit(context.Background(), func() { time.Sleep(20 * time.Millisecond) })
	}
	pool.Stop(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if maxActive > size {
		t.Errorf("observed %d concurrent tasks, limit is %d", maxActive, size)
	}
	if maxActive == 0 {
		t.Error("OnActiveChange never reported a running task")
	}
	if pool.Active() != 0 {
		t.Errorf("Active() after Stop = %d, want 0", pool.Active())
	}
}

func TestWorkerPoolSubmitBeforeStart(t *testing.T) {
	pool := NewWorkerPool(3)

	executed := false
	if err := pool.Submit(context.Background(), func() { executed = true }); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if !executed {
		t.Error("task should run synchronously before Start")
	}
}

func TestWorkerPoolSubmitAfterStop(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Start()
	pool.Stop(context.Background())

	err := pool.Submit(context.Background(), func() { t.Error("task ran after Stop") })
	if !errors.Is(err, ErrPoolStopped) {
		t.Errorf("Submit() error = %v, want ErrPoolStopped", err)
	}
	// Stopping twice is harmless
	if err := pool.Stop(context.Background()); err != nil {
		t.Errorf("second Stop() error: %v", err)
	}
}

func TestWorkerPoolSubmitHonorsContext(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Start()

	block := make(chan struct{})
	started := make(chan struct{})
	pool.Submit(context.Background(), func() {
		close(started)
		<-block
	})
	// The worker must hold the blocking task before the queue is filled,
	// or dequeuing it would free a slot
	<-started
	for pool.QueueLength() < cap(pool.tasks) {
		pool.Submit(context.Background(), func() {})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := pool.Submit(ctx, func() {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Submit() error = %v, want deadline exceeded", err)
	}

	close(block)
	pool.Stop(context.Background())
}

func TestWorkerPoolStopDeadline(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Start()

	release := make(chan struct{})
	pool.Submit(context.Background(), func() { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := pool.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Stop() error = %v, want deadline exceeded", err)
	}
	close(release)
}

func TestWorkerPoolStopDrainsQueue(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Start()

	var completed int32
	for i := 0; i < 2; i++ {
		pool.Submit(context.Background(), func() {
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&completed, 1)
		})
	}

	pool.Stop(context.Background())
	if got := atomic.LoadInt32(&completed); got != 2 {
		t.Errorf("completed %d tasks after Stop, want 2", got)
	}
}

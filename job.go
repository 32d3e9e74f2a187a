package cyclesync

import (
	"context"
	"sync"

	"github.com/gebederry/cyclesync/id"
	"github.com/gebederry/cyclesync/ticker"
)

// JobFunc defines the function signature for job execution
type JobFunc func(ctx context.Context, execCtx *ExecutionContext) error

// Job represents a scheduled unit of work
type Job struct {
	ID      string
	Name    string
	Config  JobConfig
	Ticker  ticker.Ticker
	Fn      JobFunc
	Version int64
	Active  bool

	// Transient jobs are never saved to the store and are skipped by
	// recovery. Their runs are still recorded.
	Transient bool

	// Hooks
	OnStart    func(ctx context.Context, run *Run)
	OnComplete func(ctx context.Context, report *RunReport)

	paused  bool
	running int
	mu      sync.RWMutex
}

// NewJob creates a new job instance
func NewJob(name string, tick ticker.Ticker, config JobConfig, fn JobFunc) *Job {
	return &Job{
		ID:      id.GenerateJobID(name),
		Name:    name,
		Config:  config,
		Ticker:  tick,
		Fn:      fn,
		Version: 1,
		Active:  true,
	}
}

// Pause stops the job from being triggered until Resume is called
func (j *Job) Pause() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.paused = true
}

// Resume re-enables a paused job
func (j *Job) Resume() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.paused = false
}

// IsPaused returns whether the job is paused
func (j *Job) IsPaused() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.paused
}

// TryAcquire marks a run as in flight. With OverlapPolicySkip it fails while
// another run of the same job is still in flight.
func (j *Job) TryAcquire() bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running > 0 && j.Config.OverlapPolicy != OverlapPolicyAllow {
		return false
	}
	j.running++
	return true
}

// Release marks an in-flight run as finished
func (j *Job) Release() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running > 0 {
		j.running--
	}
}

// IsRunning reports whether the job has a run in flight
func (j *Job) IsRunning() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.running > 0
}

package cyclesync

import (
	"context"
	"testing"
	"time"

	"github.com/gebederry/cyclesync/ticker"
)

func newTestJob(t *testing.T, config JobConfig) *Job {
	t.Helper()
	tick, err := ticker.NewOnceTicker(time.Now().Add(1*time.Hour), ticker.TickerConfig{})
	if err != nil {
		t.Fatalf("Failed to create ticker: %v", err)
	}
	return NewJob("test-job", tick, config, func(ctx context.Context, execCtx *ExecutionContext) error {
		return nil
	})
}

func TestNewJob(t *testing.T) {
	job := newTestJob(t, JobConfig{
		ExecutionTimeout: 30 * time.Minute,
		OverlapPolicy:    OverlapPolicySkip,
	})

	if job.Name != "test-job" {
		t.Errorf("Expected name 'test-job', got '%s'", job.Name)
	}
	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}
	if job.Version != 1 {
		t.Errorf("Expected version 1, got %d", job.Version)
	}
	if !job.Active {
		t.Error("Job should be active by default")
	}
	if job.IsPaused() {
		t.Error("Job should not be paused by default")
	}
	if job.Fn == nil {
		t.Error("Job function should be set")
	}
}

func TestJobPauseResume(t *testing.T) {
	job := newTestJob(t, JobConfig{})

	job.Pause()
	if !job.IsPaused() {
		t.Error("Job should be paused after Pause()")
	}
	job.Resume()
	if job.IsPaused() {
		t.Error("Job should not be paused after Resume()")
	}
}

func TestTryAcquireSkipPolicy(t *testing.T) {
	job := newTestJob(t, JobConfig{OverlapPolicy: OverlapPolicySkip})

	if !job.TryAcquire() {
		t.Fatal("First acquire should succeed")
	}
	if job.TryAcquire() {
		t.Error("Second acquire should fail while a run is in flight")
	}
	if !job.IsRunning() {
		t.Error("Job should report running")
	}

	job.Release()
	if job.IsRunning() {
		t.Error("Job should not report running after Release()")
	}
	if !job.TryAcquire() {
		t.Error("Acquire after release should succeed")
	}
}

func TestTryAcquireAllowPolicy(t *testing.T) {
	job := newTestJob(t, JobConfig{OverlapPolicy: OverlapPolicyAllow})

	for i := 0; i < 3; i++ {
		if !job.TryAcquire() {
			t.Fatalf("Acquire %d should succeed with allow policy", i)
		}
	}
	// Release past zero must not go negative
	for i := 0; i < 5; i++ {
		job.Release()
	}
	if job.IsRunning() {
		t.Error("Job should not report running after releases")
	}
}

func TestRunStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status   RunStatus
		terminal bool
	}{
		{RunStatusPending, false},
		{RunStatusRunning, false},
		{RunStatusCompleted, true},
		{RunStatusFailed, true},
		{RunStatusFailedStale, true},
		{RunStatusMissed, true},
	}

	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.terminal {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gebederry/cyclesync"
	"github.com/gebederry/cyclesync/metrics"
	"github.com/gebederry/cyclesync/storage"
	"github.com/gebederry/cyclesync/storage/memory"
	"github.com/gebederry/cyclesync/ticker"
)

func testConfig() Config {
	return Config{
		NodeID:            "test-node",
		MaxConcurrentJobs: 2,
		ReaperInterval:    time.Minute,
		StaleThreshold:    time.Hour,
	}
}

func onceAt(t *testing.T, at time.Time) ticker.Ticker {
	t.Helper()
	tick, err := ticker.NewOnceTicker(at, ticker.TickerConfig{})
	if err != nil {
		t.Fatalf("NewOnceTicker() error: %v", err)
	}
	return tick
}

func noop(context.Context, *cyclesync.ExecutionContext) error { return nil }

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func runsWithStatus(t *testing.T, store storage.Storage, jobID string, status cyclesync.RunStatus) int {
	t.Helper()
	runs, err := store.ListRunsByJobID(context.Background(), jobID)
	if err != nil {
		t.Fatalf("ListRunsByJobID() error: %v", err)
	}
	n := 0
	for _, run := range runs {
		if run.Status == status {
			n++
		}
	}
	return n
}

func TestSchedulerRegisterJob(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	sched := NewScheduler(testConfig(), store)

	job := cyclesync.NewJob("spawn", onceAt(t, time.Now().Add(time.Hour)), cyclesync.JobConfig{ExecutionTimeout: time.Minute}, noop)
	if err := sched.RegisterJob(ctx, job); err != nil {
		t.Fatalf("RegisterJob() error: %v", err)
	}

	if got, ok := sched.GetJob(job.ID); !ok || got != job {
		t.Error("registered job not returned by GetJob")
	}

	stored, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("job not persisted: %v", err)
	}
	if stored.Name != "spawn" || stored.Schedule != job.Ticker.String() || len(stored.Config) == 0 {
		t.Errorf("stored job = %+v", stored)
	}

	if err := sched.RegisterJob(ctx, job); err == nil {
		t.Error("expected error registering the same job twice")
	}
}

func TestSchedulerListJobs(t *testing.T) {
	sched := NewScheduler(testConfig(), memory.New())
	for _, name := range []string{"spawn", "history"} {
		job := cyclesync.NewJob(name, onceAt(t, time.Now().Add(time.Hour)), cyclesync.JobConfig{}, noop)
		if err := sched.RegisterJob(context.Background(), job); err != nil {
			t.Fatalf("RegisterJob(%s) error: %v", name, err)
		}
	}

	jobs := sched.ListJobs()
	if len(jobs) != 2 || jobs[0].Name != "history" || jobs[1].Name != "spawn" {
		t.Errorf("ListJobs() = %v", jobs)
	}
}

func TestSchedulerStartStop(t *testing.T) {
	store := memory.New()
	m := metrics.NewInMemoryMetrics()
	cfg := testConfig()
	cfg.Metrics = m
	sched := NewScheduler(cfg, store)

	var executed int32
	job := cyclesync.NewJob("spawn", onceAt(t, time.Now().Add(50*time.Millisecond)), cyclesync.JobConfig{
		RecoveryStrategy: cyclesync.RecoveryStrategyExecuteLast,
	}, func(ctx context.Context, ec *cyclesync.ExecutionContext) error {
		atomic.StoreInt32(&executed, 1)
		return nil
	})
	if err := sched.RegisterJob(context.Background(), job); err != nil {
		t.Fatalf("RegisterJob() error: %v", err)
	}

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := sched.Start(context.Background()); err == nil {
		t.Error("expected error starting twice")
	}

	waitFor(t, "run to complete", func() bool {
		return runsWithStatus(t, store, job.ID, cyclesync.RunStatusCompleted) == 1
	})

	if err := sched.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if sched.IsRunning() {
		t.Error("scheduler still running after Shutdown")
	}
	if atomic.LoadInt32(&executed) != 1 {
		t.Error("job function was not executed")
	}
	if got := m.GetJobOccurrences("spawn", "Completed"); got != 1 {
		t.Errorf("completed occurrences = %d, want 1", got)
	}
}

func TestSchedulerSkipsOverlappingRun(t *testing.T) {
	store := memory.New()
	sched := NewScheduler(testConfig(), store)

	release := make(chan struct{})
	var calls int32
	job := cyclesync.NewJob("spawn", onceAt(t, time.Now().Add(time.Hour)), cyclesync.JobConfig{
		OverlapPolicy: cyclesync.OverlapPolicySkip,
	}, func(ctx context.Context, ec *cyclesync.ExecutionContext) error {
		atomic.AddInt32(&calls, 1)
		<-release
		return nil
	})
	sched.RegisterJob(context.Background(), job)
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	first := time.Date(2025, 11, 7, 7, 59, 44, 0, time.UTC)
	sched.handleJobTrigger(job, ticker.ExecutionContext{ScheduledTime: first})
	waitFor(t, "first run to start", func() bool { return atomic.LoadInt32(&calls) == 1 })

	sched.handleJobTrigger(job, ticker.ExecutionContext{ScheduledTime: first.Add(24 * time.Hour)})
	if n := runsWithStatus(t, store, job.ID, cyclesync.RunStatusSkipped); n != 1 {
		t.Errorf("skipped runs = %d, want 1", n)
	}

	close(release)
	sched.Shutdown(5 * time.Second)
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("job ran %d times, want 1", got)
	}
}

func TestSchedulerIgnoresDuplicateTrigger(t *testing.T) {
	store := memory.New()
	sched := NewScheduler(testConfig(), store)

	var calls int32
	job := cyclesync.NewJob("history", onceAt(t, time.Now().Add(time.Hour)), cyclesync.JobConfig{}, func(context.Context, *cyclesync.ExecutionContext) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	sched.RegisterJob(context.Background(), job)
	sched.Start(context.Background())

	at := time.Date(2025, 11, 7, 2, 0, 0, 0, time.UTC)
	sched.handleJobTrigger(job, ticker.ExecutionContext{ScheduledTime: at})
	waitFor(t, "run to finish", func() bool { return !job.IsRunning() })
	sched.handleJobTrigger(job, ticker.ExecutionContext{ScheduledTime: at})

	sched.Shutdown(5 * time.Second)
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("job ran %d times for one slot, want 1", got)
	}
}

func TestSchedulerRecoversOnBoot(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	tick, err := ticker.NewCronTicker("0 * * * *", ticker.TickerConfig{Timezone: "UTC"})
	if err != nil {
		t.Fatalf("NewCronTicker() error: %v", err)
	}
	var calls int32
	job := cyclesync.NewJob("history", tick, cyclesync.JobConfig{
		RecoveryStrategy: cyclesync.RecoveryStrategyExecuteLast,
	}, func(ctx context.Context, ec *cyclesync.ExecutionContext) error {
		if ec.IsRecoveryRun {
			atomic.AddInt32(&calls, 1)
		}
		return nil
	})

	// A previous process last ran the job three hours ago
	last := time.Now().Add(-3 * time.Hour)
	store.SaveJob(ctx, &storage.Job{ID: job.ID, Name: job.Name, LastRunTime: &last})

	sched := NewScheduler(testConfig(), store)
	sched.RegisterJob(ctx, job)
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	waitFor(t, "recovery run", func() bool { return atomic.LoadInt32(&calls) == 1 })
	sched.Shutdown(5 * time.Second)

	if n := runsWithStatus(t, store, job.ID, cyclesync.RunStatusMissed); n < 2 {
		t.Errorf("missed runs = %d, want at least 2", n)
	}
}

func TestSchedulerShutdownCancelsRuns(t *testing.T) {
	store := memory.New()
	sched := NewScheduler(testConfig(), store)

	started := make(chan struct{})
	job := cyclesync.NewJob("spawn", onceAt(t, time.Now()), cyclesync.JobConfig{}, func(ctx context.Context, ec *cyclesync.ExecutionContext) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	sched.RegisterJob(context.Background(), job)
	sched.Start(context.Background())

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("run never started")
	}

	if err := sched.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if n := runsWithStatus(t, store, job.ID, cyclesync.RunStatusCanceled); n != 1 {
		t.Errorf("canceled runs = %d, want 1", n)
	}
}

func TestSchedulerRegisterWhileRunning(t *testing.T) {
	store := memory.New()
	sched := NewScheduler(testConfig(), store)
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer sched.Shutdown(5 * time.Second)

	var calls int32
	job := cyclesync.NewJob("spawn-now", onceAt(t, time.Now()), cyclesync.JobConfig{}, func(context.Context, *cyclesync.ExecutionContext) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	job.Transient = true
	if err := sched.RegisterJob(context.Background(), job); err != nil {
		t.Fatalf("RegisterJob() error: %v", err)
	}
	waitFor(t, "immediate run", func() bool { return atomic.LoadInt32(&calls) == 1 })
	waitFor(t, "completed run", func() bool {
		return runsWithStatus(t, store, job.ID, cyclesync.RunStatusCompleted) == 1
	})

	// One-off jobs leave their run but no job record behind
	if _, err := store.GetJob(context.Background(), job.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetJob() error = %v, want ErrNotFound for a transient job", err)
	}
	jobs, err := store.ListJobs(context.Background())
	if err != nil {
		t.Fatalf("ListJobs() error: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("ListJobs() = %d jobs, want none", len(jobs))
	}
}

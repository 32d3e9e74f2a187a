// Package storagetest checks that a storage.Storage implementation behaves
// the way the scheduler relies on.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gebederry/cyclesync"
	"github.com/gebederry/cyclesync/id"
	"github.com/gebederry/cyclesync/storage"
)

// Run exercises store. newStore must return an empty store; it is called
// once per subtest.
func Run(t *testing.T, newStore func(t *testing.T) storage.Storage) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Storage)
	}{
		{"SaveJobPreservesCreatedAndLastRun", testSaveJob},
		{"GetJobNotFound", testGetJobNotFound},
		{"CreateRunOnce", testCreateRunOnce},
		{"UpdateRun", testUpdateRun},
		{"ListRuns", testListRuns},
		{"StaleRuns", testStaleRuns},
		{"PollSessions", testPollSessions},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tt.fn(t, s)
		})
	}
}

func newRun(jobName string, scheduled time.Time, status cyclesync.RunStatus) *cyclesync.Run {
	jobID := id.GenerateJobID(jobName)
	return &cyclesync.Run{
		ID:            id.GenerateRunID(jobID, scheduled),
		JobID:         jobID,
		JobName:       jobName,
		ScheduledTime: scheduled,
		Status:        status,
		CreatedAt:     time.Now(),
	}
}

func testSaveJob(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	job := &storage.Job{ID: id.GenerateJobID("spawn"), Name: "spawn", Schedule: "cron(44 59 7 * * * UTC)", Active: true}
	if err := s.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob() error: %v", err)
	}

	last := time.Date(2025, 11, 7, 7, 59, 44, 0, time.UTC)
	job.LastRunTime = &last
	if err := s.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob() error: %v", err)
	}
	created := job.CreatedAt

	// Re-registration without a last run time keeps the stored one
	again := &storage.Job{ID: job.ID, Name: "spawn", Schedule: job.Schedule, Version: 2, Active: true}
	if err := s.SaveJob(ctx, again); err != nil {
		t.Fatalf("SaveJob() error: %v", err)
	}

	got, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error: %v", err)
	}
	if got.LastRunTime == nil || !got.LastRunTime.Equal(last) {
		t.Errorf("LastRunTime = %v, want %v", got.LastRunTime, last)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if got.Version != 2 {
		t.Errorf("Version = %d, want 2", got.Version)
	}

	jobs, err := s.ListJobs(ctx)
	if err != nil {
		t.Fatalf("ListJobs() error: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Name != "spawn" {
		t.Errorf("ListJobs() = %+v, want only spawn", jobs)
	}
}

func testGetJobNotFound(t *testing.T, s storage.Storage) {
	_, err := s.GetJob(context.Background(), "job_missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetJob() error = %v, want ErrNotFound", err)
	}
	_, err = s.GetRun(context.Background(), "run_missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetRun() error = %v, want ErrNotFound", err)
	}
}

func testCreateRunOnce(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	scheduled := time.Date(2025, 11, 7, 2, 0, 0, 0, time.UTC)

	if err := s.CreateRun(ctx, newRun("history", scheduled, cyclesync.RunStatusPending)); err != nil {
		t.Fatalf("CreateRun() error: %v", err)
	}
	err := s.CreateRun(ctx, newRun("history", scheduled, cyclesync.RunStatusPending))
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Errorf("second CreateRun() error = %v, want ErrAlreadyExists", err)
	}
}

func testUpdateRun(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	run := newRun("history", time.Date(2025, 11, 7, 2, 0, 0, 0, time.UTC), cyclesync.RunStatusPending)

	if err := s.UpdateRun(ctx, run); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UpdateRun() before create error = %v, want ErrNotFound", err)
	}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() error: %v", err)
	}

	run.Status = cyclesync.RunStatusFailed
	run.ErrorMessage = "connection reset"
	if err := s.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun() error: %v", err)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun() error: %v", err)
	}
	if got.Status != cyclesync.RunStatusFailed || got.ErrorMessage != "connection reset" {
		t.Errorf("GetRun() = %+v", got)
	}
}

func testListRuns(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	base := time.Date(2025, 11, 7, 2, 0, 0, 0, time.UTC)

	runs := []*cyclesync.Run{
		newRun("history", base, cyclesync.RunStatusCompleted),
		newRun("history", base.Add(24*time.Hour), cyclesync.RunStatusRunning),
		newRun("spawn", base, cyclesync.RunStatusRunning),
	}
	for _, run := range runs {
		if err := s.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun() error: %v", err)
		}
	}

	history, err := s.ListRunsByJobID(ctx, id.GenerateJobID("history"))
	if err != nil {
		t.Fatalf("ListRunsByJobID() error: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("ListRunsByJobID() returned %d runs, want 2", len(history))
	}
	for _, run := range history {
		if run.JobName != "history" {
			t.Errorf("ListRunsByJobID() returned run of %s", run.JobName)
		}
	}

	running, err := s.ListRunningRuns(ctx)
	if err != nil {
		t.Fatalf("ListRunningRuns() error: %v", err)
	}
	if len(running) != 2 {
		t.Errorf("ListRunningRuns() returned %d runs, want 2", len(running))
	}
}

func testStaleRuns(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	old := time.Now().Add(-2 * time.Hour)
	recent := time.Now()

	stale := newRun("spawn", time.Date(2025, 11, 6, 7, 59, 44, 0, time.UTC), cyclesync.RunStatusRunning)
	stale.StartTime = &old
	fresh := newRun("spawn", time.Date(2025, 11, 7, 7, 59, 44, 0, time.UTC), cyclesync.RunStatusRunning)
	fresh.StartTime = &recent
	done := newRun("history", time.Date(2025, 11, 6, 2, 0, 0, 0, time.UTC), cyclesync.RunStatusCompleted)
	done.StartTime = &old

	for _, run := range []*cyclesync.Run{stale, fresh, done} {
		if err := s.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun() error: %v", err)
		}
	}

	got, err := s.ListStaleRuns(ctx, time.Hour)
	if err != nil {
		t.Fatalf("ListStaleRuns() error: %v", err)
	}
	if len(got) != 1 || got[0].ID != stale.ID {
		t.Errorf("ListStaleRuns() = %d runs, want only the old running one", len(got))
	}
}

func testPollSessions(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	run := newRun("spawn", time.Date(2025, 11, 7, 7, 59, 44, 0, time.UTC), cyclesync.RunStatusRunning)
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() error: %v", err)
	}

	session := &storage.PollSession{
		ID:        id.GenerateSessionID(run.ID),
		JobID:     run.JobID,
		RunID:     run.ID,
		Outcome:   storage.PollOutcomeRunning,
		StartTime: time.Now(),
	}
	if err := s.SavePollSession(ctx, session); err != nil {
		t.Fatalf("SavePollSession() error: %v", err)
	}

	end := time.Now()
	session.Outcome = storage.PollOutcomeChanged
	session.Attempts = 4
	session.LastInterval = 6 * time.Second
	session.EndTime = &end
	if err := s.SavePollSession(ctx, session); err != nil {
		t.Fatalf("SavePollSession() error: %v", err)
	}

	got, err := s.GetPollSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetPollSession() error: %v", err)
	}
	if got.Outcome != storage.PollOutcomeChanged || got.Attempts != 4 || got.LastInterval != 6*time.Second {
		t.Errorf("GetPollSession() = %+v", got)
	}

	list, err := s.ListPollSessionsByRunID(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListPollSessionsByRunID() error: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("ListPollSessionsByRunID() returned %d sessions, want 1", len(list))
	}

	none, err := s.ListPollSessionsByRunID(ctx, "run_unknown")
	if err != nil {
		t.Fatalf("ListPollSessionsByRunID() unknown run error: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("unknown run has %d sessions", len(none))
	}

	if _, err := s.GetPollSession(ctx, "poll_missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetPollSession() error = %v, want ErrNotFound", err)
	}
}

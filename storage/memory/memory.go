// Package memory is a process-local Storage, used when run history does not
// need to survive a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gebederry/cyclesync"
	"github.com/gebederry/cyclesync/storage"
)

// Storage keeps copies of every record in maps guarded by a mutex
type Storage struct {
	mu       sync.RWMutex
	jobs     map[string]storage.Job
	runs     map[string]cyclesync.Run
	sessions map[string]storage.PollSession
}

// New creates an empty in-memory store
func New() *Storage {
	return &Storage{
		jobs:     make(map[string]storage.Job),
		runs:     make(map[string]cyclesync.Run),
		sessions: make(map[string]storage.PollSession),
	}
}

func (s *Storage) SaveJob(ctx context.Context, job *storage.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.jobs[job.ID]; ok {
		job.CreatedAt = existing.CreatedAt
		if job.LastRunTime == nil {
			job.LastRunTime = existing.LastRunTime
		}
	} else {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	s.jobs[job.ID] = *job
	return nil
}

func (s *Storage) GetJob(ctx context.Context, jobID string) (*storage.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, storage.ErrNotFound)
	}
	return &job, nil
}

func (s *Storage) ListJobs(ctx context.Context) ([]*storage.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*storage.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		job := job
		jobs = append(jobs, &job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs, nil
}

func (s *Storage) CreateRun(ctx context.Context, run *cyclesync.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; ok {
		return fmt.Errorf("run %s: %w", run.ID, storage.ErrAlreadyExists)
	}
	s.runs[run.ID] = *run
	return nil
}

func (s *Storage) GetRun(ctx context.Context, runID string) (*cyclesync.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, storage.ErrNotFound)
	}
	return &run, nil
}

func (s *Storage) UpdateRun(ctx context.Context, run *cyclesync.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; !ok {
		return fmt.Errorf("run %s: %w", run.ID, storage.ErrNotFound)
	}
	run.UpdatedAt = time.Now()
	s.runs[run.ID] = *run
	return nil
}

func (s *Storage) ListRunsByJobID(ctx context.Context, jobID string) ([]*cyclesync.Run, error) {
	return s.listRuns(func(run *cyclesync.Run) bool { return run.JobID == jobID }), nil
}

func (s *Storage) ListRunningRuns(ctx context.Context) ([]*cyclesync.Run, error) {
	return s.listRuns(func(run *cyclesync.Run) bool { return run.Status == cyclesync.RunStatusRunning }), nil
}

func (s *Storage) ListStaleRuns(ctx context.Context, threshold time.Duration) ([]*cyclesync.Run, error) {
	cutoff := time.Now().Add(-threshold)
	return s.listRuns(func(run *cyclesync.Run) bool { return storage.IsStale(run, cutoff) }), nil
}

func (s *Storage) listRuns(keep func(*cyclesync.Run) bool) []*cyclesync.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []*cyclesync.Run
	for _, run := range s.runs {
		run := run
		if keep(&run) {
			runs = append(runs, &run)
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].ScheduledTime.Before(runs[j].ScheduledTime) })
	return runs
}

func (s *Storage) SavePollSession(ctx context.Context, session *storage.PollSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = *session
	return nil
}

func (s *Storage) GetPollSession(ctx context.Context, sessionID string) (*storage.PollSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("poll session %s: %w", sessionID, storage.ErrNotFound)
	}
	return &session, nil
}

func (s *Storage) ListPollSessionsByRunID(ctx context.Context, runID string) ([]*storage.PollSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sessions []*storage.PollSession
	for _, session := range s.sessions {
		session := session
		if session.RunID == runID {
			sessions = append(sessions, &session)
		}
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].StartTime.Before(sessions[j].StartTime) })
	return sessions, nil
}

func (s *Storage) Close() error {
	return nil
}

var _ storage.Storage = (*Storage)(nil)

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/gebederry/cyclesync"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Storage persists job metadata, run history and poll sessions
type Storage interface {
	// Job operations
	SaveJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, jobID string) (*Job, error)
	ListJobs(ctx context.Context) ([]*Job, error)

	// Run operations. CreateRun fails with ErrAlreadyExists for a known ID,
	// which is how a slot is claimed exactly once.
	CreateRun(ctx context.Context, run *cyclesync.Run) error
	GetRun(ctx context.Context, runID string) (*cyclesync.Run, error)
	UpdateRun(ctx context.Context, run *cyclesync.Run) error
	ListRunsByJobID(ctx context.Context, jobID string) ([]*cyclesync.Run, error)
	ListRunningRuns(ctx context.Context) ([]*cyclesync.Run, error)
	ListStaleRuns(ctx context.Context, threshold time.Duration) ([]*cyclesync.Run, error)

	// Poll session operations
	SavePollSession(ctx context.Context, session *PollSession) error
	GetPollSession(ctx context.Context, sessionID string) (*PollSession, error)
	ListPollSessionsByRunID(ctx context.Context, runID string) ([]*PollSession, error)

	// Close closes the storage connection
	Close() error
}

// Job represents a job definition in storage
type Job struct {
	ID          string
	Name        string
	Schedule    string // ticker description, e.g. "cron(0 2 * * * Asia/Shanghai)"
	Config      []byte // serialized JobConfig
	Version     int64
	Active      bool
	LastRunTime *time.Time // scheduled time of the latest handled slot
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PollOutcome is how a poll session ended
type PollOutcome string

const (
	PollOutcomeRunning  PollOutcome = "Running"
	PollOutcomeChanged  PollOutcome = "Changed"
	PollOutcomeTimeout  PollOutcome = "Timeout"
	PollOutcomeFailed   PollOutcome = "Failed"
	PollOutcomeCanceled PollOutcome = "Canceled"
)

// PollSession records one adaptive polling session of a run
type PollSession struct {
	ID           string
	JobID        string
	RunID        string
	Outcome      PollOutcome
	Attempts     int
	LastInterval time.Duration
	FirstMarker  string
	LastMarker   string
	ErrorMessage string
	StartTime    time.Time
	EndTime      *time.Time
}

// IsStale reports whether run has been Running since before cutoff
func IsStale(run *cyclesync.Run, cutoff time.Time) bool {
	return run.Status == cyclesync.RunStatusRunning && run.StartTime != nil && run.StartTime.Before(cutoff)
}

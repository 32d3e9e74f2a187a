package cyclesync

import (
	"time"
)

// RunStatus represents the status of a job run
type RunStatus string

const (
	RunStatusPending     RunStatus = "Pending"
	RunStatusRunning     RunStatus = "Running"
	RunStatusCompleted   RunStatus = "Completed"
	RunStatusFailed      RunStatus = "Failed"
	RunStatusCanceled    RunStatus = "Canceled"
	RunStatusFailedStale RunStatus = "Failed_Stale"
	RunStatusSkipped     RunStatus = "Skipped"
	RunStatusMissed      RunStatus = "Missed"
)

// IsTerminal reports whether no further transitions are expected
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusPending, RunStatusRunning:
		return false
	default:
		return true
	}
}

// OverlapPolicy defines how to handle a trigger while the previous run is still going
type OverlapPolicy string

const (
	OverlapPolicySkip  OverlapPolicy = "Skip"
	OverlapPolicyAllow OverlapPolicy = "Allow"
)

// RecoveryStrategy defines how to handle runs missed while the process was down
type RecoveryStrategy string

const (
	RecoveryStrategyExecuteAll    RecoveryStrategy = "Execute_All"
	RecoveryStrategyExecuteLast   RecoveryStrategy = "Execute_Last"
	RecoveryStrategyMarkAsMissed  RecoveryStrategy = "Mark_As_Missed"
	RecoveryStrategyBoundedWindow RecoveryStrategy = "Bounded_Window"
)

// BoundedWindow defines limits for bounded recovery strategy
type BoundedWindow struct {
	MaxOccurrences int           `json:"max_occurrences"`
	MaxDuration    time.Duration `json:"max_duration"`
}

// JobConfig holds job-level configuration
type JobConfig struct {
	ExecutionTimeout time.Duration    `json:"execution_timeout"`
	OverlapPolicy    OverlapPolicy    `json:"overlap_policy"`
	RecoveryStrategy RecoveryStrategy `json:"recovery_strategy"`
	BoundedWindow    *BoundedWindow   `json:"bounded_window,omitempty"`
}

// ExecutionContext is handed to a JobFunc for the run it belongs to
type ExecutionContext struct {
	RunID         string
	JobName       string
	ScheduledTime time.Time
	IsRecoveryRun bool
}

// Run represents a single execution of a job
type Run struct {
	ID            string
	JobID         string
	JobName       string
	JobVersion    int64
	ScheduledTime time.Time
	Status        RunStatus
	OwningNodeID  string
	StartTime     *time.Time
	EndTime       *time.Time
	IsRecoveryRun bool
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RunReport summarizes a finished run for hooks and callers
type RunReport struct {
	RunID         string
	JobName       string
	Status        RunStatus
	ScheduledTime time.Time
	StartTime     time.Time
	EndTime       time.Time
	Duration      time.Duration
	ErrorMessage  string
	IsRecoveryRun bool
}

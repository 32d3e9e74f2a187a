package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gebederry/cyclesync"
	"github.com/gebederry/cyclesync/id"
	"github.com/gebederry/cyclesync/metrics"
	"github.com/gebederry/cyclesync/storage"
)

// Executor runs job occurrences and keeps their run records current
type Executor struct {
	store   storage.Storage
	metrics metrics.MetricsCollector
	nodeID  string
	now     func() time.Time
}

// NewExecutor creates a new executor instance
func NewExecutor(store storage.Storage) *Executor {
	return &Executor{
		store:   store,
		metrics: metrics.NewNoOpMetrics(),
		now:     time.Now,
	}
}

// SetMetrics sets the metrics collector for this executor
func (e *Executor) SetMetrics(m metrics.MetricsCollector) {
	e.metrics = m
}

// SetNodeID tags runs with the process that owns them
func (e *Executor) SetNodeID(nodeID string) {
	e.nodeID = nodeID
}

// Claim creates the Pending run for a scheduled slot. A slot that already
// has a run yields an error wrapping storage.ErrAlreadyExists.
func (e *Executor) Claim(ctx context.Context, job *cyclesync.Job, scheduled time.Time, isRecovery bool) (*cyclesync.Run, error) {
	return e.record(ctx, job, scheduled, cyclesync.RunStatusPending, isRecovery)
}

// Record creates a run that is already in a terminal state, such as a
// missed or skipped slot, and advances the job's last run time
func (e *Executor) Record(ctx context.Context, job *cyclesync.Job, scheduled time.Time, status cyclesync.RunStatus) (*cyclesync.Run, error) {
	run, err := e.record(ctx, job, scheduled, status, false)
	if err != nil {
		return nil, err
	}
	e.metrics.IncJobOccurrences(job.Name, string(status))
	if err := e.AdvanceLastRun(ctx, job, scheduled); err != nil {
		return run, err
	}
	return run, nil
}

func (e *Executor) record(ctx context.Context, job *cyclesync.Job, scheduled time.Time, status cyclesync.RunStatus, isRecovery bool) (*cyclesync.Run, error) {
	now := e.now()
	run := &cyclesync.Run{
		ID:            id.GenerateRunID(job.ID, scheduled),
		JobID:         job.ID,
		JobName:       job.Name,
		JobVersion:    job.Version,
		ScheduledTime: scheduled,
		Status:        status,
		OwningNodeID:  e.nodeID,
		IsRecoveryRun: isRecovery,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if status.IsTerminal() {
		run.EndTime = &now
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run for %s at %s: %w", job.Name, scheduled.Format(time.RFC3339), err)
	}
	return run, nil
}

// Execute runs a claimed run to completion under the job's execution
// timeout. The returned error is the job's own error, if any.
func (e *Executor) Execute(ctx context.Context, job *cyclesync.Job, run *cyclesync.Run) (*cyclesync.RunReport, error) {
	logger := log.Ctx(ctx).With().
		Str("job", job.Name).
		Str("run_id", run.ID).
		Time("scheduled", run.ScheduledTime).
		Logger()
	ctx = logger.WithContext(ctx)

	jobCtx, cancel := withTimeout(ctx, job.Config.ExecutionTimeout)
	defer cancel()

	// Bookkeeping outlives cancellation of the run itself
	bookCtx := context.WithoutCancel(ctx)

	startTime := e.now()
	run.Status = cyclesync.RunStatusRunning
	run.StartTime = &startTime
	if err := e.store.UpdateRun(bookCtx, run); err != nil {
		return nil, fmt.Errorf("failed to mark run running: %w", err)
	}

	if job.OnStart != nil {
		job.OnStart(jobCtx, run)
	}
	logger.Info().Bool("recovery", run.IsRecoveryRun).Msg("Run started")

	err := job.Fn(jobCtx, &cyclesync.ExecutionContext{
		RunID:         run.ID,
		JobName:       job.Name,
		ScheduledTime: run.ScheduledTime,
		IsRecoveryRun: run.IsRecoveryRun,
	})

	endTime := e.now()
	run.EndTime = &endTime
	switch {
	case err == nil:
		run.Status = cyclesync.RunStatusCompleted
	case ctx.Err() != nil:
		run.Status = cyclesync.RunStatusCanceled
		run.ErrorMessage = err.Error()
	case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
		run.Status = cyclesync.RunStatusFailed
		err = fmt.Errorf("execution timeout after %s: %w", job.Config.ExecutionTimeout, err)
		run.ErrorMessage = err.Error()
	default:
		run.Status = cyclesync.RunStatusFailed
		run.ErrorMessage = err.Error()
	}

	if uerr := e.store.UpdateRun(bookCtx, run); uerr != nil {
		logger.Error().Err(uerr).Msg("Failed to persist run result")
	}
	if aerr := e.AdvanceLastRun(bookCtx, job, run.ScheduledTime); aerr != nil {
		logger.Error().Err(aerr).Msg("Failed to advance last run time")
	}

	duration := endTime.Sub(startTime)
	e.metrics.ObserveJobDuration(job.Name, duration)
	e.metrics.IncJobOccurrences(job.Name, string(run.Status))

	event := logger.Info()
	if err != nil {
		event = logger.Error().Err(err)
	}
	event.Str("status", string(run.Status)).Dur("duration", duration).Msg("Run finished")

	report := &cyclesync.RunReport{
		RunID:         run.ID,
		JobName:       job.Name,
		Status:        run.Status,
		ScheduledTime: run.ScheduledTime,
		StartTime:     startTime,
		EndTime:       endTime,
		Duration:      duration,
		ErrorMessage:  run.ErrorMessage,
		IsRecoveryRun: run.IsRecoveryRun,
	}
	if job.OnComplete != nil {
		job.OnComplete(bookCtx, report)
	}

	return report, err
}

// AdvanceLastRun moves the job's last handled slot forward to scheduled.
// It never moves it backwards. Transient jobs have no stored slot.
func (e *Executor) AdvanceLastRun(ctx context.Context, job *cyclesync.Job, scheduled time.Time) error {
	if job.Transient {
		return nil
	}
	stored, err := e.store.GetJob(ctx, job.ID)
	if err != nil {
		return err
	}
	if stored.LastRunTime != nil && !scheduled.After(*stored.LastRunTime) {
		return nil
	}
	stored.LastRunTime = &scheduled
	return e.store.SaveJob(ctx, stored)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gebederry/cyclesync"
	"github.com/gebederry/cyclesync/concurrency"
	"github.com/gebederry/cyclesync/executor"
	"github.com/gebederry/cyclesync/metrics"
	"github.com/gebederry/cyclesync/storage"
)

// Handler deals with occurrences that fell due while the process was down
type Handler struct {
	executor *executor.Executor
	pool     *concurrency.WorkerPool
	metrics  metrics.MetricsCollector
	now      func() time.Time
}

// NewHandler creates a new recovery handler
func NewHandler(exec *executor.Executor, pool *concurrency.WorkerPool) *Handler {
	return &Handler{
		executor: exec,
		pool:     pool,
		metrics:  metrics.NewNoOpMetrics(),
		now:      time.Now,
	}
}

// SetMetrics sets the metrics collector for this recovery handler
func (h *Handler) SetMetrics(m metrics.MetricsCollector) {
	h.metrics = m
}

// MissedOccurrences lists the job's slots after its last handled run, or
// after its registration when it never ran, up to now
func (h *Handler) MissedOccurrences(job *cyclesync.Job, stored *storage.Job) ([]time.Time, error) {
	since := stored.CreatedAt
	if stored.LastRunTime != nil {
		since = *stored.LastRunTime
	}
	now := h.now()
	if !since.Before(now) {
		return nil, nil
	}
	return job.Ticker.GetOccurrencesBetween(since, now)
}

// Plan splits missed slots into those to execute and those to record as
// missed, according to the job's recovery strategy
func (h *Handler) Plan(job *cyclesync.Job, missed []time.Time) (execute, skip []time.Time) {
	if len(missed) == 0 {
		return nil, nil
	}

	switch job.Config.RecoveryStrategy {
	case cyclesync.RecoveryStrategyExecuteLast:
		return missed[len(missed)-1:], missed[:len(missed)-1]
	case cyclesync.RecoveryStrategyMarkAsMissed:
		return nil, missed
	case cyclesync.RecoveryStrategyBoundedWindow:
		return h.boundedWindow(job.Config.BoundedWindow, missed)
	default:
		return missed, nil
	}
}

func (h *Handler) boundedWindow(window *cyclesync.BoundedWindow, missed []time.Time) (execute, skip []time.Time) {
	if window == nil {
		return missed, nil
	}

	execute = missed
	if window.MaxDuration > 0 {
		cutoff := h.now().Add(-window.MaxDuration)
		execute = nil
		for _, t := range missed {
			if t.After(cutoff) {
				execute = append(execute, t)
			} else {
				skip = append(skip, t)
			}
		}
	}

	if window.MaxOccurrences > 0 && len(execute) > window.MaxOccurrences {
		cut := len(execute) - window.MaxOccurrences
		skip = append(skip, execute[:cut]...)
		execute = execute[cut:]
	}
	return execute, skip
}

// ApplyStrategy records skipped slots as Missed and submits the remaining
// ones as a single sequential recovery task
func (h *Handler) ApplyStrategy(ctx context.Context, job *cyclesync.Job, missed []time.Time) error {
	execute, skip := h.Plan(job, missed)
	strategy := string(job.Config.RecoveryStrategy)
	logger := log.Ctx(ctx).With().Str("job", job.Name).Str("strategy", strategy).Logger()

	for _, t := range skip {
		if _, err := h.executor.Record(ctx, job, t, cyclesync.RunStatusMissed); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				continue
			}
			return err
		}
		h.metrics.IncRecoveryRuns(job.Name, strategy)
		logger.Warn().Time("scheduled", t).Msg("Occurrence missed")
	}

	var runs []*cyclesync.Run
	for _, t := range execute {
		run, err := h.executor.Claim(ctx, job, t, true)
		if err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				continue
			}
			return err
		}
		h.metrics.IncRecoveryRuns(job.Name, strategy)
		runs = append(runs, run)
	}
	if len(runs) == 0 {
		return nil
	}

	if !job.TryAcquire() {
		return fmt.Errorf("job %s is already running", job.Name)
	}
	logger.Info().Int("runs", len(runs)).Msg("Submitting recovery runs")

	err := h.pool.Submit(ctx, func() {
		defer job.Release()
		for _, run := range runs {
			// Errors are recorded on the run and logged by the executor
			_, _ = h.executor.Execute(ctx, job, run)
		}
	})
	if err != nil {
		job.Release()
		return fmt.Errorf("failed to submit recovery runs: %w", err)
	}
	return nil
}

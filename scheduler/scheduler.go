package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gebederry/cyclesync"
	"github.com/gebederry/cyclesync/concurrency"
	"github.com/gebederry/cyclesync/executor"
	"github.com/gebederry/cyclesync/metrics"
	"github.com/gebederry/cyclesync/recovery"
	"github.com/gebederry/cyclesync/storage"
	"github.com/gebederry/cyclesync/ticker"
)

// Config tunes the scheduler runtime
type Config struct {
	NodeID            string
	MaxConcurrentJobs int
	ReaperInterval    time.Duration
	StaleThreshold    time.Duration
	Metrics           metrics.MetricsCollector
}

// Scheduler triggers registered jobs from their tickers and runs them on a
// bounded worker pool
type Scheduler struct {
	config  Config
	store   storage.Storage
	exec    *executor.Executor
	pool    *concurrency.WorkerPool
	reaper  *recovery.Reaper
	metrics metrics.MetricsCollector

	jobs   map[string]*cyclesync.Job
	jobsMu sync.RWMutex

	running   bool
	runningMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a new scheduler instance
func NewScheduler(config Config, store storage.Storage) *Scheduler {
	mc := config.Metrics
	if mc == nil {
		mc = metrics.NewNoOpMetrics()
	}

	exec := executor.NewExecutor(store)
	exec.SetMetrics(mc)
	exec.SetNodeID(config.NodeID)

	pool := concurrency.NewWorkerPool(config.MaxConcurrentJobs)
	pool.OnActiveChange = mc.SetJobsRunning

	return &Scheduler{
		config:  config,
		store:   store,
		exec:    exec,
		pool:    pool,
		reaper:  recovery.NewReaper(store, config.ReaperInterval, config.StaleThreshold),
		metrics: mc,
		jobs:    make(map[string]*cyclesync.Job),
	}
}

// RegisterJob persists the job definition and adds it to the scheduler.
// Registering while running starts the job's ticker straight away, without
// recovery.
func (s *Scheduler) RegisterJob(ctx context.Context, job *cyclesync.Job) error {
	s.jobsMu.RLock()
	_, exists := s.jobs[job.ID]
	s.jobsMu.RUnlock()
	if exists {
		return fmt.Errorf("job already registered: %s", job.Name)
	}

	if !job.Transient {
		if err := s.saveJob(ctx, job); err != nil {
			return err
		}
	}

	s.jobsMu.Lock()
	s.jobs[job.ID] = job
	s.jobsMu.Unlock()

	s.runningMu.RLock()
	defer s.runningMu.RUnlock()
	if s.running && job.Active {
		return s.startJob(job)
	}
	return nil
}

func (s *Scheduler) saveJob(ctx context.Context, job *cyclesync.Job) error {
	configBytes, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("failed to serialize job config: %w", err)
	}

	storageJob := &storage.Job{
		ID:       job.ID,
		Name:     job.Name,
		Schedule: job.Ticker.String(),
		Config:   configBytes,
		Version:  job.Version,
		Active:   job.Active,
	}
	if err := s.store.SaveJob(ctx, storageJob); err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.Name, err)
	}
	return nil
}

// Start recovers missed occurrences, then starts the reaper, the worker
// pool and every active job's ticker. Runs inherit ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.pool.Start()

	if err := s.performRecovery(); err != nil {
		s.cancel()
		s.pool.Stop(context.Background())
		return fmt.Errorf("recovery failed: %w", err)
	}

	s.reaper.Start(s.ctx)

	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()
	for _, job := range s.jobs {
		if !job.Active {
			continue
		}
		if err := s.startJob(job); err != nil {
			return err
		}
	}

	s.running = true
	log.Ctx(ctx).Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")
	return nil
}

func (s *Scheduler) startJob(job *cyclesync.Job) error {
	if err := job.Ticker.Start(); err != nil {
		return fmt.Errorf("failed to start ticker for %s: %w", job.Name, err)
	}
	if next, err := job.Ticker.NextRun(); err == nil && next != nil {
		log.Ctx(s.ctx).Info().Str("job", job.Name).Str("schedule", job.Ticker.String()).Time("next_run", *next).Msg("Job scheduled")
	}

	s.wg.Add(1)
	go s.watchJob(job)
	return nil
}

// watchJob monitors a job's ticker and triggers executions
func (s *Scheduler) watchJob(job *cyclesync.Job) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case execCtx, ok := <-job.Ticker.Channel():
			if !ok {
				return
			}
			s.handleJobTrigger(job, execCtx)
		}
	}
}

// handleJobTrigger claims the slot and hands the run to the worker pool
func (s *Scheduler) handleJobTrigger(job *cyclesync.Job, execCtx ticker.ExecutionContext) {
	logger := log.Ctx(s.ctx).With().Str("job", job.Name).Time("scheduled", execCtx.ScheduledTime).Logger()

	if job.IsPaused() {
		logger.Debug().Msg("Job paused, trigger ignored")
		return
	}

	if !job.TryAcquire() {
		logger.Warn().Msg("Previous run still in progress, skipping occurrence")
		if _, err := s.exec.Record(s.ctx, job, execCtx.ScheduledTime, cyclesync.RunStatusSkipped); err != nil {
			logger.Error().Err(err).Msg("Failed to record skipped occurrence")
		}
		return
	}

	run, err := s.exec.Claim(s.ctx, job, execCtx.ScheduledTime, false)
	if err != nil {
		job.Release()
		if errors.Is(err, storage.ErrAlreadyExists) {
			logger.Debug().Msg("Occurrence already claimed")
			return
		}
		logger.Error().Err(err).Msg("Failed to claim occurrence")
		return
	}

	err = s.pool.Submit(s.ctx, func() {
		defer job.Release()
		// The executor records and logs the outcome
		_, _ = s.exec.Execute(s.ctx, job, run)
	})
	if err != nil {
		job.Release()
		logger.Error().Err(err).Msg("Failed to submit run")
	}
}

// performRecovery applies each job's recovery strategy to the occurrences
// it missed while the process was down
func (s *Scheduler) performRecovery() error {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	handler := recovery.NewHandler(s.exec, s.pool)
	handler.SetMetrics(s.metrics)

	for _, job := range s.jobs {
		if !job.Active || job.Transient {
			continue
		}

		stored, err := s.store.GetJob(s.ctx, job.ID)
		if err != nil {
			return err
		}

		missed, err := handler.MissedOccurrences(job, stored)
		if err != nil {
			return err
		}
		if len(missed) == 0 {
			continue
		}

		log.Ctx(s.ctx).Info().
			Str("job", job.Name).
			Int("missed", len(missed)).
			Str("strategy", string(job.Config.RecoveryStrategy)).
			Msg("Recovering missed occurrences")

		if err := handler.ApplyStrategy(s.ctx, job, missed); err != nil {
			return err
		}
	}

	return nil
}

// Shutdown stops the tickers, cancels in-flight runs and waits up to timeout
// for them to record their outcome
func (s *Scheduler) Shutdown(timeout time.Duration) error {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()

	if !s.running {
		return nil
	}

	s.jobsMu.RLock()
	for _, job := range s.jobs {
		job.Ticker.Stop()
	}
	s.jobsMu.RUnlock()

	s.cancel()
	s.wg.Wait()
	s.reaper.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := s.pool.Stop(ctx)

	s.running = false
	if err != nil {
		return fmt.Errorf("runs still active after %s: %w", timeout, err)
	}
	return nil
}

// GetJob returns a registered job by ID
func (s *Scheduler) GetJob(jobID string) (*cyclesync.Job, bool) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	job, exists := s.jobs[jobID]
	return job, exists
}

// ListJobs returns all registered jobs ordered by name
func (s *Scheduler) ListJobs() []*cyclesync.Job {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	jobs := make([]*cyclesync.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs
}

// IsRunning reports whether Start has been called without Shutdown
func (s *Scheduler) IsRunning() bool {
	s.runningMu.RLock()
	defer s.runningMu.RUnlock()
	return s.running
}

package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gebederry/cyclesync"
	"github.com/gebederry/cyclesync/artifact"
	"github.com/gebederry/cyclesync/cycles"
	"github.com/gebederry/cyclesync/id"
	"github.com/gebederry/cyclesync/metrics"
	"github.com/gebederry/cyclesync/poll"
	"github.com/gebederry/cyclesync/spawn"
	"github.com/gebederry/cyclesync/storage"
)

// SpawnName is the scheduler name of the spawn-time job
const SpawnName = "spawn"

// SpawnOptions configures a SpawnJob
type SpawnOptions struct {
	Schedule    poll.IntervalSchedule
	Ceiling     poll.Ceiling
	Table       spawn.OccurrenceTable
	Category    string
	AnchorIndex int
	OutputPath  string
}

// SpawnJob waits for the endpoint to publish a new cycle, then resolves and
// writes the static spawn timestamps
type SpawnJob struct {
	fetcher   cycles.Fetcher
	artifacts *artifact.Store
	opts      SpawnOptions

	tableMu sync.RWMutex
	table   spawn.OccurrenceTable

	store   storage.Storage
	metrics metrics.MetricsCollector
	now     func() time.Time
}

// NewSpawnJob validates opts and creates the job
func NewSpawnJob(fetcher cycles.Fetcher, artifacts *artifact.Store, opts SpawnOptions) (*SpawnJob, error) {
	if opts.Category == "" {
		opts.Category = spawn.DefaultCategory
	}
	if opts.AnchorIndex < 0 {
		return nil, fmt.Errorf("anchor index must not be negative, got %d", opts.AnchorIndex)
	}
	if opts.OutputPath == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if err := opts.Table.Validate(); err != nil {
		return nil, err
	}
	// Surface ladder and ceiling errors at construction
	if _, err := poll.New(opts.Schedule, opts.Ceiling, poll.Hooks{}); err != nil {
		return nil, err
	}

	return &SpawnJob{
		fetcher:   fetcher,
		artifacts: artifacts,
		opts:      opts,
		table:     opts.Table,
		metrics:   metrics.NewNoOpMetrics(),
		now:       time.Now,
	}, nil
}

// SetStore records poll sessions in store
func (j *SpawnJob) SetStore(store storage.Storage) {
	j.store = store
}

// SetTable swaps the occurrence table used by subsequent runs
func (j *SpawnJob) SetTable(table spawn.OccurrenceTable) {
	j.tableMu.Lock()
	defer j.tableMu.Unlock()
	j.table = table
}

func (j *SpawnJob) occurrenceTable() spawn.OccurrenceTable {
	j.tableMu.RLock()
	defer j.tableMu.RUnlock()
	return j.table
}

// SetMetrics sets the metrics collector for this job
func (j *SpawnJob) SetMetrics(m metrics.MetricsCollector) {
	j.metrics = m
}

// JobFunc adapts the job for the scheduler
func (j *SpawnJob) JobFunc() cyclesync.JobFunc {
	return j.Run
}

// Run performs one poll session and, on a detected change, replaces the
// spawn timestamp artifact. execCtx is nil when run outside the scheduler.
// On any error the previous artifact is left in place.
func (j *SpawnJob) Run(ctx context.Context, execCtx *cyclesync.ExecutionContext) error {
	logger := log.Ctx(ctx).With().Str("component", "spawn").Logger()
	ctx = logger.WithContext(ctx)

	session := j.newSession(execCtx)
	j.saveSession(ctx, session)

	doc, err := j.poll(ctx, &logger, session)
	if err != nil {
		j.finishSession(ctx, session, err)
		return fmt.Errorf("poll session failed: %w", err)
	}
	j.finishSession(ctx, session, nil)

	anchor, err := doc.Anchor(j.opts.AnchorIndex)
	if err != nil {
		return err
	}

	items, err := spawn.Resolve(j.occurrenceTable(), anchor, doc.NextCycleTimes, j.opts.Category)
	if err != nil {
		return fmt.Errorf("failed to resolve spawn times: %w", err)
	}

	out := spawn.NewStaticSpawnTimestamps(items, j.now())
	if err := j.artifacts.WriteJSON(j.opts.OutputPath, out); err != nil {
		return err
	}

	logger.Info().
		Int64("anchor", anchor).
		Int("items", len(items)).
		Str("path", j.opts.OutputPath).
		Msg("Spawn timestamps written")
	return nil
}

// poll runs the adaptive session until the document's updated marker changes
func (j *SpawnJob) poll(ctx context.Context, logger *zerolog.Logger, session *storage.PollSession) (*cycles.Document, error) {
	var current time.Duration
	hooks := poll.Hooks{
		OnStart: func() {
			logger.Info().Str("category", j.opts.Category).Msg("Waiting for cycle rotation")
		},
		OnAttempt: func(a poll.Attempt) {
			session.Attempts = a.Number
			session.LastInterval = a.Interval
			j.metrics.SetPollInterval(SpawnName, a.Interval)
			if a.Interval != current {
				if current != 0 {
					logger.Info().Int("attempt", a.Number).Dur("interval", a.Interval).Msg("Poll interval increased")
				}
				current = a.Interval
			}
			logger.Debug().Int("attempt", a.Number).Dur("interval", a.Interval).Dur("elapsed", a.Elapsed).Msg("No change yet")
		},
		OnComplete: func(a poll.Attempt) {
			session.Attempts = a.Number
			logger.Info().Int("attempt", a.Number).Dur("elapsed", a.Elapsed).Msg("Cycle rotation detected")
		},
		OnError: func(a poll.Attempt, err error) {
			session.Attempts = a.Number
			logger.Warn().Err(err).Int("attempt", a.Number).Dur("interval", a.Interval).Msg("Poll session ended without change")
		},
	}

	p, err := poll.New(j.opts.Schedule, j.opts.Ceiling, hooks)
	if err != nil {
		return nil, err
	}

	fetch := func(ctx context.Context) (*cycles.Document, error) {
		j.metrics.IncPollAttempts(SpawnName)
		doc, err := j.fetcher.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		if session.FirstMarker == "" {
			session.FirstMarker = doc.Marker()
		}
		session.LastMarker = doc.Marker()
		return doc, nil
	}

	res, err := poll.Run(ctx, p, fetch, poll.UntilChanged((*cycles.Document).Marker))
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

func (j *SpawnJob) newSession(execCtx *cyclesync.ExecutionContext) *storage.PollSession {
	runID := "manual_" + j.now().UTC().Format(time.RFC3339Nano)
	jobName := SpawnName
	if execCtx != nil {
		runID = execCtx.RunID
		jobName = execCtx.JobName
	}
	return &storage.PollSession{
		ID:        id.GenerateSessionID(runID),
		JobID:     id.GenerateJobID(jobName),
		RunID:     runID,
		Outcome:   storage.PollOutcomeRunning,
		StartTime: j.now(),
	}
}

func (j *SpawnJob) finishSession(ctx context.Context, session *storage.PollSession, err error) {
	end := j.now()
	session.EndTime = &end

	switch {
	case err == nil:
		session.Outcome = storage.PollOutcomeChanged
	case poll.IsTimeout(err):
		session.Outcome = storage.PollOutcomeTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		session.Outcome = storage.PollOutcomeCanceled
	default:
		session.Outcome = storage.PollOutcomeFailed
	}
	if err != nil {
		session.ErrorMessage = err.Error()
	}

	j.metrics.IncPollSessions(SpawnName, string(session.Outcome))
	j.metrics.ObservePollSession(SpawnName, end.Sub(session.StartTime))
	j.saveSession(context.WithoutCancel(ctx), session)
}

func (j *SpawnJob) saveSession(ctx context.Context, session *storage.PollSession) {
	if j.store == nil {
		return
	}
	if err := j.store.SavePollSession(ctx, session); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("session_id", session.ID).Msg("Failed to save poll session")
	}
}

package recovery

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gebederry/cyclesync"
	"github.com/gebederry/cyclesync/storage"
)

const (
	DefaultReaperInterval = 5 * time.Minute
	DefaultStaleThreshold = 13 * time.Hour
)

// Reaper periodically marks runs stuck in Running as Failed_Stale. The
// threshold must exceed the longest legitimate run.
type Reaper struct {
	store     storage.Storage
	interval  time.Duration
	threshold time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewReaper creates a new reaper instance
func NewReaper(store storage.Storage, interval, threshold time.Duration) *Reaper {
	if interval <= 0 {
		interval = DefaultReaperInterval
	}
	if threshold <= 0 {
		threshold = DefaultStaleThreshold
	}

	return &Reaper{
		store:     store,
		interval:  interval,
		threshold: threshold,
		stopCh:    make(chan struct{}),
	}
}

// Start starts the reaper goroutine
func (r *Reaper) Start(ctx context.Context) {
	go r.run(ctx)
}

func (r *Reaper) run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			if _, err := r.Reap(ctx); err != nil {
				log.Ctx(ctx).Error().Err(err).Msg("Stale run scan failed")
			}
		}
	}
}

// Reap marks every stale run as Failed_Stale and returns how many it found
func (r *Reaper) Reap(ctx context.Context) (int, error) {
	stale, err := r.store.ListStaleRuns(ctx, r.threshold)
	if err != nil {
		return 0, err
	}

	for _, run := range stale {
		now := time.Now()
		run.Status = cyclesync.RunStatusFailedStale
		run.EndTime = &now
		run.ErrorMessage = "run exceeded stale threshold " + r.threshold.String()
		if err := r.store.UpdateRun(ctx, run); err != nil {
			return 0, err
		}
		log.Ctx(ctx).Warn().
			Str("job", run.JobName).
			Str("run_id", run.ID).
			Time("started", *run.StartTime).
			Msg("Marked stale run as failed")
	}
	return len(stale), nil
}

// Stop stops the reaper
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

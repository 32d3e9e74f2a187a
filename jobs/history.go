package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gebederry/cyclesync"
	"github.com/gebederry/cyclesync/cycles"
	"github.com/gebederry/cyclesync/history"
	"github.com/gebederry/cyclesync/metrics"
)

// HistoryName is the scheduler name of the history job
const HistoryName = "history"

// HistoryJob fetches the cycle document once and appends today's cycle to
// the rolling history
type HistoryJob struct {
	fetcher  cycles.Fetcher
	appender *history.Appender
	metrics  metrics.MetricsCollector
	now      func() time.Time
}

func NewHistoryJob(fetcher cycles.Fetcher, appender *history.Appender) *HistoryJob {
	return &HistoryJob{
		fetcher:  fetcher,
		appender: appender,
		metrics:  metrics.NewNoOpMetrics(),
		now:      time.Now,
	}
}

// SetMetrics sets the metrics collector for this job
func (j *HistoryJob) SetMetrics(m metrics.MetricsCollector) {
	j.metrics = m
}

// JobFunc adapts the job for the scheduler
func (j *HistoryJob) JobFunc() cyclesync.JobFunc {
	return j.Run
}

// Run fetches and appends. A day without a matching cycle is not an error.
func (j *HistoryJob) Run(ctx context.Context, execCtx *cyclesync.ExecutionContext) error {
	ctx = log.Ctx(ctx).With().Str("component", "history").Logger().WithContext(ctx)

	doc, err := j.fetcher.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch cycles: %w", err)
	}

	outcome, err := j.appender.Append(ctx, doc, j.now())
	if err != nil {
		j.metrics.IncHistoryAppends("error")
		return fmt.Errorf("failed to append history: %w", err)
	}
	j.metrics.IncHistoryAppends(string(outcome))
	return nil
}

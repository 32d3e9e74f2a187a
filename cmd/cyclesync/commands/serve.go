package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gebederry/cyclesync"
	"github.com/gebederry/cyclesync/jobs"
	"github.com/gebederry/cyclesync/metrics"
	"github.com/gebederry/cyclesync/scheduler"
	"github.com/gebederry/cyclesync/spawn"
	"github.com/gebederry/cyclesync/storage"
	"github.com/gebederry/cyclesync/ticker"
)

func newServeCommand(a *app) *cobra.Command {
	var now bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the spawn and history jobs on their schedules",
		Long: `Run the scheduler until interrupted.

The spawn job starts polling shortly before the daily rotation and writes the
spawn timestamps once a new cycle is published. The history job appends the
day's cycle to the rolling history. Missed occurrences are recovered on start
according to each job's recovery strategy.

With --now each enabled job also runs once immediately. Those one-off runs are
kept in the run store under "<job>-now" but are not registered as jobs.`,
		Example: `  # Run with the built-in defaults
  cyclesync serve

  # Run both jobs once right away, then keep the schedule
  cyclesync serve --now --config /etc/cyclesync.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context(), now)
		},
	}

	cmd.Flags().BoolVar(&now, "now", false, "also run every enabled job once immediately")

	return cmd
}

func (a *app) serve(ctx context.Context, now bool) error {
	logger := log.Ctx(ctx)

	var prom *metrics.PrometheusMetrics
	if a.cfg.Metrics.Addr != "" {
		var err error
		prom, err = metrics.NewPrometheusMetrics(a.cfg.Metrics.Namespace)
		if err != nil {
			return fmt.Errorf("failed to create metrics: %w", err)
		}
		a.metrics = prom
	}

	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	sched := scheduler.NewScheduler(scheduler.Config{
		NodeID:            a.nodeID(),
		MaxConcurrentJobs: a.cfg.Scheduler.MaxConcurrentJobs,
		ReaperInterval:    a.cfg.Scheduler.ReaperInterval,
		StaleThreshold:    a.cfg.Scheduler.StaleThreshold,
		Metrics:           a.collector(),
	}, store)

	defs, err := a.jobDefinitions(ctx, store)
	if err != nil {
		return err
	}
	if len(defs) == 0 {
		return errors.New("no jobs enabled")
	}

	tickerCfg := ticker.TickerConfig{Timezone: a.cfg.Timezone}
	for _, def := range defs {
		tick, err := ticker.NewCronTicker(def.schedule, tickerCfg)
		if err != nil {
			return err
		}
		if err := sched.RegisterJob(ctx, cyclesync.NewJob(def.name, tick, def.config, def.fn)); err != nil {
			return err
		}
	}

	if err := sched.Start(ctx); err != nil {
		return err
	}

	if now {
		for _, def := range defs {
			tick, err := ticker.NewOnceTicker(time.Now(), tickerCfg)
			if err != nil {
				return err
			}
			// Distinct name so the immediate run does not collide with the
			// scheduled job's overlap state
			job := cyclesync.NewJob(def.name+"-now", tick, def.config, def.fn)
			job.Transient = true
			if err := sched.RegisterJob(ctx, job); err != nil {
				return err
			}
		}
	}

	var srv *http.Server
	if prom != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", prom.Handler())
		srv = &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			logger.Info().Str("addr", a.cfg.Metrics.Addr).Msg("Serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	<-ctx.Done()
	logger.Info().Msg("Shutting down scheduler")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}
	return sched.Shutdown(a.cfg.Scheduler.ShutdownTimeout)
}

type jobDefinition struct {
	name     string
	schedule string
	config   cyclesync.JobConfig
	fn       cyclesync.JobFunc
}

func (a *app) jobDefinitions(ctx context.Context, store storage.Storage) ([]jobDefinition, error) {
	var defs []jobDefinition
	fetcher, err := a.client()
	if err != nil {
		return nil, err
	}

	if a.cfg.Spawn.Enabled {
		job, err := a.spawnJob(fetcher)
		if err != nil {
			return nil, err
		}
		job.SetStore(store)
		if a.cfg.Spawn.WatchTable {
			watcher := spawn.NewTableWatcher(a.fs, a.cfg.Spawn.OccurrenceTable, job.SetTable)
			if err := watcher.Watch(ctx); err != nil {
				return nil, err
			}
		}
		defs = append(defs, jobDefinition{
			name:     jobs.SpawnName,
			schedule: a.cfg.Spawn.Schedule,
			config: cyclesync.JobConfig{
				ExecutionTimeout: a.cfg.Spawn.ExecutionTimeout,
				OverlapPolicy:    cyclesync.OverlapPolicySkip,
				RecoveryStrategy: a.cfg.Spawn.Recovery,
			},
			fn: job.JobFunc(),
		})
	}

	if a.cfg.History.Enabled {
		job, err := a.historyJob(fetcher)
		if err != nil {
			return nil, err
		}
		defs = append(defs, jobDefinition{
			name:     jobs.HistoryName,
			schedule: a.cfg.History.Schedule,
			config: cyclesync.JobConfig{
				ExecutionTimeout: a.cfg.History.ExecutionTimeout,
				OverlapPolicy:    cyclesync.OverlapPolicySkip,
				RecoveryStrategy: a.cfg.History.Recovery,
			},
			fn: job.JobFunc(),
		})
	}

	return defs, nil
}

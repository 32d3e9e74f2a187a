package commands

import (
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/gebederry/cyclesync/artifact"
	"github.com/gebederry/cyclesync/config"
	"github.com/gebederry/cyclesync/cycles"
	"github.com/gebederry/cyclesync/history"
	"github.com/gebederry/cyclesync/jobs"
	"github.com/gebederry/cyclesync/metrics"
	"github.com/gebederry/cyclesync/spawn"
	"github.com/gebederry/cyclesync/storage"
	badgerstore "github.com/gebederry/cyclesync/storage/badger"
	"github.com/gebederry/cyclesync/storage/memory"
)

// app wires components from the loaded configuration
type app struct {
	fs  afero.Fs
	cfg *config.Config

	// set by serve when the Prometheus endpoint is enabled
	metrics metrics.MetricsCollector
}

func (a *app) collector() metrics.MetricsCollector {
	if a.metrics == nil {
		return metrics.NewNoOpMetrics()
	}
	return a.metrics
}

func (a *app) openStore() (storage.Storage, error) {
	switch a.cfg.Storage.Driver {
	case "memory":
		return memory.New(), nil
	case "badger":
		return badgerstore.NewBadgerStorage(a.cfg.Storage.Path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", a.cfg.Storage.Driver)
	}
}

func (a *app) client() (*cycles.Client, error) {
	httpClient, err := cycles.NewHTTPClient()
	if err != nil {
		return nil, err
	}
	return cycles.NewClient(cycles.ClientConfig{
		URL:       a.cfg.Endpoint.URL,
		UserAgent: a.cfg.Endpoint.UserAgent,
		Timeout:   a.cfg.Endpoint.Timeout,
	}, httpClient), nil
}

func (a *app) artifacts() *artifact.Store {
	return artifact.NewStore(a.fs)
}

func (a *app) spawnJob(fetcher cycles.Fetcher) (*jobs.SpawnJob, error) {
	sc := a.cfg.Spawn
	table, err := spawn.LoadOccurrenceTable(a.fs, sc.OccurrenceTable)
	if err != nil {
		return nil, err
	}

	job, err := jobs.NewSpawnJob(fetcher, a.artifacts(), jobs.SpawnOptions{
		Schedule:    sc.Ladder,
		Ceiling:     sc.Ceiling,
		Table:       table,
		Category:    sc.Category,
		AnchorIndex: sc.AnchorIndex,
		OutputPath:  sc.OutputPath,
	})
	if err != nil {
		return nil, err
	}
	job.SetMetrics(a.collector())
	return job, nil
}

func (a *app) historyJob(fetcher cycles.Fetcher) (*jobs.HistoryJob, error) {
	loc, err := a.cfg.Location()
	if err != nil {
		return nil, err
	}
	job := jobs.NewHistoryJob(fetcher, history.NewAppender(a.artifacts(), a.cfg.History.OutputPath, loc))
	job.SetMetrics(a.collector())
	return job, nil
}

func (a *app) nodeID() string {
	if a.cfg.Scheduler.NodeID != "" {
		return a.cfg.Scheduler.NodeID
	}
	host, err := os.Hostname()
	if err != nil {
		return "cyclesync"
	}
	return host
}

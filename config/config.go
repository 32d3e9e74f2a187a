// Package config loads the cyclesync YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/gebederry/cyclesync"
	"github.com/gebederry/cyclesync/cycles"
	"github.com/gebederry/cyclesync/poll"
	"github.com/gebederry/cyclesync/spawn"
	"github.com/gebederry/cyclesync/ticker"
)

// Config is the root of the configuration file
type Config struct {
	// Timezone cron schedules run in and in which the history job takes
	// today's date
	Timezone string `yaml:"timezone" validate:"required,timezone"`

	Endpoint  EndpointConfig  `yaml:"endpoint"`
	Spawn     SpawnConfig     `yaml:"spawn"`
	History   HistoryConfig   `yaml:"history"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type EndpointConfig struct {
	URL       string        `yaml:"url" validate:"required,url"`
	UserAgent string        `yaml:"user_agent" validate:"required"`
	Timeout   time.Duration `yaml:"timeout" validate:"gt=0"`
}

// SpawnConfig configures the job that waits for the daily rotation
type SpawnConfig struct {
	Enabled          bool                       `yaml:"enabled"`
	Schedule         string                     `yaml:"schedule" validate:"required,cron"`
	OutputPath       string                     `yaml:"output_path" validate:"required"`
	OccurrenceTable  string                     `yaml:"occurrence_table" validate:"required"`
	WatchTable       bool                       `yaml:"watch_table"`
	Category         string                     `yaml:"category" validate:"required"`
	AnchorIndex      int                        `yaml:"anchor_index" validate:"gte=0"`
	Ladder           poll.Ladder                `yaml:"ladder"`
	Ceiling          poll.Ceiling               `yaml:"ceiling"`
	ExecutionTimeout time.Duration              `yaml:"execution_timeout" validate:"gte=0"`
	Recovery         cyclesync.RecoveryStrategy `yaml:"recovery" validate:"oneof=Execute_All Execute_Last Mark_As_Missed Bounded_Window"`
}

// HistoryConfig configures the daily history append
type HistoryConfig struct {
	Enabled          bool                       `yaml:"enabled"`
	Schedule         string                     `yaml:"schedule" validate:"required,cron"`
	OutputPath       string                     `yaml:"output_path" validate:"required"`
	ExecutionTimeout time.Duration              `yaml:"execution_timeout" validate:"gte=0"`
	Recovery         cyclesync.RecoveryStrategy `yaml:"recovery" validate:"oneof=Execute_All Execute_Last Mark_As_Missed Bounded_Window"`
}

type SchedulerConfig struct {
	NodeID            string        `yaml:"node_id"`
	MaxConcurrentJobs int           `yaml:"max_concurrent_jobs" validate:"gte=1"`
	ReaperInterval    time.Duration `yaml:"reaper_interval" validate:"gt=0"`
	StaleThreshold    time.Duration `yaml:"stale_threshold" validate:"gt=0"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// StorageConfig selects the run history store. The badger driver with an
// empty path keeps everything in memory.
type StorageConfig struct {
	Driver string `yaml:"driver" validate:"oneof=memory badger"`
	Path   string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set
type MetricsConfig struct {
	Addr      string `yaml:"addr" validate:"omitempty,hostname_port"`
	Namespace string `yaml:"namespace"`
}

// Default returns the production deployment's settings
func Default() *Config {
	return &Config{
		Timezone: "Asia/Shanghai",
		Endpoint: EndpointConfig{
			URL:       cycles.DefaultURL,
			UserAgent: "cyclesync/1.0 (+https://github.com/gebederry/cyclesync)",
			Timeout:   30 * time.Second,
		},
		Spawn: SpawnConfig{
			Enabled:          true,
			Schedule:         "44 59 7 * * *",
			OutputPath:       "/var/www/map/data/jewelry_timestamps.json",
			OccurrenceTable:  "dev/jewelry_occurence_cycles.json",
			Category:         spawn.DefaultCategory,
			AnchorIndex:      1,
			Ladder:           poll.DefaultLadder(),
			Ceiling:          poll.Ceiling{MaxAttempts: 500, MaxElapsed: 12 * time.Hour},
			ExecutionTimeout: 13 * time.Hour,
			Recovery:         cyclesync.RecoveryStrategyMarkAsMissed,
		},
		History: HistoryConfig{
			Enabled:          true,
			Schedule:         "0 2 * * *",
			OutputPath:       "/var/www/map/data/cycles.json",
			ExecutionTimeout: 5 * time.Minute,
			Recovery:         cyclesync.RecoveryStrategyExecuteLast,
		},
		Scheduler: SchedulerConfig{
			MaxConcurrentJobs: 2,
			ReaperInterval:    5 * time.Minute,
			StaleThreshold:    14 * time.Hour,
			ShutdownTimeout:   30 * time.Second,
		},
		Storage: StorageConfig{
			Driver: "badger",
			Path:   "/var/lib/cyclesync",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Namespace: "cyclesync",
		},
	}
}

// Load reads path over the defaults and validates the result. An empty
// path yields the validated defaults.
func Load(fs afero.Fs, path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found", path)
			}
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints, then the poll ladder and ceiling
func (c *Config) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Spawn.Ladder.Validate(); err != nil {
		return fmt.Errorf("invalid config: spawn.ladder: %w", err)
	}
	if err := c.Spawn.Ceiling.Validate(); err != nil {
		return fmt.Errorf("invalid config: spawn.ceiling: %w", err)
	}
	return nil
}

// Location resolves the configured timezone
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		return ticker.ValidateCron(fl.Field().String()) == nil
	})
	return v
}

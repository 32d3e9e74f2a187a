package ticker

import (
	"fmt"
	"time"
)

// MaxOccurrenceIterations is the safety limit for occurrence calculations
const MaxOccurrenceIterations = 10000

// ExecutionContext carries the timing of a single tick
type ExecutionContext struct {
	ScheduledTime time.Time
	ActualTime    time.Time
}

// Ticker defines the scheduling mechanism interface
type Ticker interface {
	// Channel returns a read-only channel that emits execution contexts
	Channel() <-chan ExecutionContext

	Start() error
	Stop() error

	// NextRun returns nil when the ticker will not fire again
	NextRun() (*time.Time, error)

	// Recovery support
	GetOccurrencesBetween(start, end time.Time) ([]time.Time, error)

	// String describes the schedule for logs
	String() string
}

// TickerConfig provides common configuration for all tickers
type TickerConfig struct {
	Timezone string
}

func loadLocation(timezone string) (*time.Location, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", timezone, err)
	}
	return loc, nil
}

package poll

import (
	"fmt"
	"time"
)

// IntervalSchedule selects how long to wait after the given attempt
// (1-based) before starting the next one.
type IntervalSchedule interface {
	Interval(attempt int) time.Duration
}

// IntervalFunc adapts a plain function to IntervalSchedule
type IntervalFunc func(attempt int) time.Duration

func (f IntervalFunc) Interval(attempt int) time.Duration {
	return f(attempt)
}

// Step switches the interval once the attempt count reaches Attempt
type Step struct {
	Attempt  int           `yaml:"attempt" json:"attempt" validate:"gt=0"`
	Interval time.Duration `yaml:"interval" json:"interval" validate:"gt=0"`
}

// Ladder is a monotonic backoff schedule: Initial until the first step's
// attempt count is reached, then each step's interval in turn.
type Ladder struct {
	Initial time.Duration `yaml:"initial" json:"initial" validate:"gt=0"`
	Steps   []Step        `yaml:"steps" json:"steps" validate:"dive"`
}

// DefaultLadder polls every 6s, then every minute from attempt 60,
// every two minutes from attempt 100 and every five from attempt 200.
func DefaultLadder() Ladder {
	return Ladder{
		Initial: 6 * time.Second,
		Steps: []Step{
			{Attempt: 60, Interval: time.Minute},
			{Attempt: 100, Interval: 2 * time.Minute},
			{Attempt: 200, Interval: 5 * time.Minute},
		},
	}
}

// Interval returns the interval of the last step whose threshold has been
// reached, or Initial before the first threshold.
func (l Ladder) Interval(attempt int) time.Duration {
	interval := l.Initial
	for _, s := range l.Steps {
		if attempt < s.Attempt {
			break
		}
		interval = s.Interval
	}
	return interval
}

// Validate checks that thresholds strictly increase and intervals never shrink
func (l Ladder) Validate() error {
	if l.Initial <= 0 {
		return fmt.Errorf("initial interval must be positive, got %s", l.Initial)
	}

	prevAttempt := 0
	prevInterval := l.Initial
	for i, s := range l.Steps {
		if s.Attempt <= prevAttempt {
			return fmt.Errorf("step %d: attempt %d must be greater than %d", i, s.Attempt, prevAttempt)
		}
		if s.Interval < prevInterval {
			return fmt.Errorf("step %d: interval %s is shorter than %s", i, s.Interval, prevInterval)
		}
		prevAttempt = s.Attempt
		prevInterval = s.Interval
	}
	return nil
}

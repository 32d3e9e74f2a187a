package poll

import (
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is matched by errors.Is when a session hits its ceiling
var ErrTimeout = errors.New("poll: ceiling reached before condition held")

// AttemptError reports a fetch failure. The session is aborted on the first one.
type AttemptError struct {
	Attempt int
	// Interval waited before this attempt; zero for the first
	Interval time.Duration
	Err      error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("poll attempt %d (after %s) failed: %v", e.Attempt, e.Interval, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// TimeoutError reports a session that exhausted its ceiling
type TimeoutError struct {
	Attempts int
	Interval time.Duration
	Elapsed  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("poll: condition not met after %d attempts in %s (last interval %s)",
		e.Attempts, e.Elapsed.Round(time.Second), e.Interval)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

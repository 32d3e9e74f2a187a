package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// FetchFunc performs a single attempt
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Ceiling bounds a session. Zero fields are unbounded, but at least one must be set.
type Ceiling struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts" validate:"gte=0"`
	MaxElapsed  time.Duration `yaml:"max_elapsed" json:"max_elapsed" validate:"gte=0"`
}

// Validate rejects a ceiling that would allow polling forever, and one
// attempt only, which can never observe a change
func (c Ceiling) Validate() error {
	if c.MaxAttempts < 0 || c.MaxElapsed < 0 {
		return fmt.Errorf("ceiling values must not be negative")
	}
	if c.MaxAttempts == 0 && c.MaxElapsed == 0 {
		return fmt.Errorf("ceiling needs max attempts or max elapsed time")
	}
	if c.MaxAttempts == 1 {
		return fmt.Errorf("ceiling max attempts must be at least 2, got 1")
	}
	return nil
}

// Attempt describes the session after a completed attempt
type Attempt struct {
	Number int
	// Interval before the next attempt, or the one that preceded this
	// attempt when the session ends here
	Interval time.Duration
	Elapsed  time.Duration
}

// Hooks observe a session. They never influence scheduling.
type Hooks struct {
	OnStart    func()
	OnAttempt  func(a Attempt)
	OnComplete func(a Attempt)
	OnError    func(a Attempt, err error)
}

// Result is the payload of the attempt that satisfied the condition
type Result[T any] struct {
	Data     T
	Attempts int
	Elapsed  time.Duration
}

// Poller holds the schedule and ceiling shared by sessions
type Poller struct {
	schedule IntervalSchedule
	ceiling  Ceiling
	hooks    Hooks

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// New creates a poller. A Ladder schedule is validated as well.
func New(schedule IntervalSchedule, ceiling Ceiling, hooks Hooks) (*Poller, error) {
	if schedule == nil {
		return nil, fmt.Errorf("interval schedule is required")
	}
	if l, ok := schedule.(Ladder); ok {
		if err := l.Validate(); err != nil {
			return nil, fmt.Errorf("invalid ladder: %w", err)
		}
	}
	if err := ceiling.Validate(); err != nil {
		return nil, err
	}

	return &Poller{
		schedule: schedule,
		ceiling:  ceiling,
		hooks:    hooks,
		now:      time.Now,
		after:    time.After,
	}, nil
}

// Run starts a session: fetch, evaluate until, wait, repeat. It returns the
// first payload for which until holds. A fetch error aborts with an
// *AttemptError; exceeding the ceiling returns a *TimeoutError.
func Run[T any](ctx context.Context, p *Poller, fetch FetchFunc[T], until Condition[T]) (*Result[T], error) {
	start := p.now()
	var lastInterval time.Duration

	if p.hooks.OnStart != nil {
		p.hooks.OnStart()
	}

	for attempt := 1; ; attempt++ {
		data, err := fetch(ctx)
		elapsed := p.now().Sub(start)
		if err != nil {
			err = &AttemptError{Attempt: attempt, Interval: lastInterval, Err: err}
			p.fail(Attempt{Number: attempt, Interval: lastInterval, Elapsed: elapsed}, err)
			return nil, err
		}

		if until(data) {
			if p.hooks.OnComplete != nil {
				p.hooks.OnComplete(Attempt{Number: attempt, Interval: lastInterval, Elapsed: elapsed})
			}
			return &Result[T]{Data: data, Attempts: attempt, Elapsed: elapsed}, nil
		}

		interval := p.schedule.Interval(attempt)
		if p.exhausted(attempt, elapsed+interval) {
			err := &TimeoutError{Attempts: attempt, Interval: lastInterval, Elapsed: elapsed}
			p.fail(Attempt{Number: attempt, Interval: lastInterval, Elapsed: elapsed}, err)
			return nil, err
		}

		if p.hooks.OnAttempt != nil {
			p.hooks.OnAttempt(Attempt{Number: attempt, Interval: interval, Elapsed: elapsed})
		}

		select {
		case <-ctx.Done():
			err := fmt.Errorf("poll canceled after %d attempts: %w", attempt, ctx.Err())
			p.fail(Attempt{Number: attempt, Interval: interval, Elapsed: p.now().Sub(start)}, err)
			return nil, err
		case <-p.after(interval):
		}
		lastInterval = interval
	}
}

// exhausted reports whether another attempt would break the ceiling.
// nextElapsed is the elapsed time at which the next attempt would start.
func (p *Poller) exhausted(attempt int, nextElapsed time.Duration) bool {
	if p.ceiling.MaxAttempts > 0 && attempt >= p.ceiling.MaxAttempts {
		return true
	}
	if p.ceiling.MaxElapsed > 0 && nextElapsed > p.ceiling.MaxElapsed {
		return true
	}
	return false
}

func (p *Poller) fail(a Attempt, err error) {
	if p.hooks.OnError != nil {
		p.hooks.OnError(a, err)
	}
}

// IsTimeout reports whether err ended a session at its ceiling
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

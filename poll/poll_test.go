package poll

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeClock advances only when the poller waits
type fakeClock struct {
	now   time.Time
	waits []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func newTestPoller(t *testing.T, schedule IntervalSchedule, ceiling Ceiling, hooks Hooks) (*Poller, *fakeClock) {
	t.Helper()
	p, err := New(schedule, ceiling, hooks)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	clock := &fakeClock{now: time.Date(2025, 11, 7, 7, 59, 44, 0, time.UTC)}
	p.now = clock.Now
	p.after = clock.After
	return p, clock
}

type payload struct {
	Updated string
	Seq     int
}

// sequenceFetch returns the given markers in order, repeating the last one
func sequenceFetch(markers ...string) (FetchFunc[payload], *int) {
	calls := 0
	return func(ctx context.Context) (payload, error) {
		calls++
		i := calls - 1
		if i >= len(markers) {
			i = len(markers) - 1
		}
		return payload{Updated: markers[i], Seq: calls}, nil
	}, &calls
}

func updatedMarker(p payload) string { return p.Updated }

func TestRunSucceedsOnFirstChange(t *testing.T) {
	p, clock := newTestPoller(t, DefaultLadder(), Ceiling{MaxAttempts: 50}, Hooks{})
	fetch, calls := sequenceFetch("v1", "v1", "v1", "v2")

	res, err := Run(context.Background(), p, fetch, UntilChanged(updatedMarker))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Attempts != 4 {
		t.Errorf("Attempts = %d, want 4", res.Attempts)
	}
	if res.Data.Seq != 4 || res.Data.Updated != "v2" {
		t.Errorf("Data = %+v, want attempt-4 payload", res.Data)
	}
	if *calls != 4 {
		t.Errorf("fetch called %d times, want 4", *calls)
	}
	if len(clock.waits) != 3 {
		t.Errorf("waited %d times, want 3", len(clock.waits))
	}
	if res.Elapsed != 18*time.Second {
		t.Errorf("Elapsed = %s, want 18s", res.Elapsed)
	}
}

func TestRunImmediateSuccess(t *testing.T) {
	p, clock := newTestPoller(t, DefaultLadder(), Ceiling{MaxAttempts: 5}, Hooks{})
	fetch, _ := sequenceFetch("v1")

	res, err := Run(context.Background(), p, fetch, func(payload) bool { return true })
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", res.Attempts)
	}
	if len(clock.waits) != 0 {
		t.Errorf("waited %d times, want 0", len(clock.waits))
	}
}

func TestRunFollowsLadder(t *testing.T) {
	l := DefaultLadder()
	p, clock := newTestPoller(t, l, Ceiling{MaxAttempts: 210}, Hooks{})
	fetch, _ := sequenceFetch("same")

	_, err := Run(context.Background(), p, fetch, UntilChanged(updatedMarker))
	if !IsTimeout(err) {
		t.Fatalf("Run() error = %v, want timeout", err)
	}

	// The wait after attempt k is Interval(k); the last attempt does not wait
	if len(clock.waits) != 209 {
		t.Fatalf("waited %d times, want 209", len(clock.waits))
	}
	for i, w := range clock.waits {
		attempt := i + 1
		if want := l.Interval(attempt); w != want {
			t.Fatalf("wait after attempt %d = %s, want %s", attempt, w, want)
		}
	}
}

func TestRunAbortsOnFetchError(t *testing.T) {
	boom := errors.New("connection reset")
	var gotErr error
	hooks := Hooks{OnError: func(a Attempt, err error) { gotErr = err }}
	p, _ := newTestPoller(t, Ladder{Initial: time.Second}, Ceiling{MaxAttempts: 10}, hooks)

	calls := 0
	fetch := func(ctx context.Context) (payload, error) {
		calls++
		if calls == 3 {
			return payload{}, boom
		}
		return payload{Updated: "v1"}, nil
	}

	_, err := Run(context.Background(), p, fetch, UntilChanged(updatedMarker))
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want wrapping %v", err, boom)
	}
	var attemptErr *AttemptError
	if !errors.As(err, &attemptErr) {
		t.Fatalf("Run() error %T is not *AttemptError", err)
	}
	if attemptErr.Attempt != 3 || attemptErr.Interval != time.Second {
		t.Errorf("AttemptError = %+v, want attempt 3 after 1s", attemptErr)
	}
	if calls != 3 {
		t.Errorf("fetch called %d times after error, want 3", calls)
	}
	if gotErr != err {
		t.Errorf("OnError received %v, want %v", gotErr, err)
	}
}

func TestRunMaxElapsedCeiling(t *testing.T) {
	p, clock := newTestPoller(t, Ladder{Initial: 10 * time.Second}, Ceiling{MaxElapsed: 35 * time.Second}, Hooks{})
	fetch, calls := sequenceFetch("v1")

	_, err := Run(context.Background(), p, fetch, UntilChanged(updatedMarker))
	var timeout *TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("Run() error = %v, want *TimeoutError", err)
	}
	// Attempts at 0s, 10s, 20s, 30s; a fifth at 40s would exceed 35s
	if *calls != 4 {
		t.Errorf("fetch called %d times, want 4", *calls)
	}
	if timeout.Elapsed != 30*time.Second {
		t.Errorf("Elapsed = %s, want 30s", timeout.Elapsed)
	}
	if len(clock.waits) != 3 {
		t.Errorf("waited %d times, want 3", len(clock.waits))
	}
}

func TestRunHooks(t *testing.T) {
	var started, completed int
	var attempts []Attempt
	hooks := Hooks{
		OnStart:    func() { started++ },
		OnAttempt:  func(a Attempt) { attempts = append(attempts, a) },
		OnComplete: func(a Attempt) { completed++ },
	}
	p, _ := newTestPoller(t, IntervalFunc(func(n int) time.Duration { return time.Duration(n) * time.Second }), Ceiling{MaxAttempts: 10}, hooks)
	fetch, _ := sequenceFetch("a", "a", "b")

	if _, err := Run(context.Background(), p, fetch, UntilChanged(updatedMarker)); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if started != 1 || completed != 1 {
		t.Errorf("started=%d completed=%d, want 1 and 1", started, completed)
	}
	if len(attempts) != 2 {
		t.Fatalf("OnAttempt called %d times, want 2", len(attempts))
	}
	if attempts[0].Number != 1 || attempts[0].Interval != time.Second {
		t.Errorf("attempts[0] = %+v", attempts[0])
	}
	if attempts[1].Number != 2 || attempts[1].Interval != 2*time.Second {
		t.Errorf("attempts[1] = %+v", attempts[1])
	}
}

func TestRunCanceledContext(t *testing.T) {
	p, err := New(Ladder{Initial: time.Hour}, Ceiling{MaxAttempts: 3}, Hooks{})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	fetch := func(ctx context.Context) (payload, error) {
		cancel()
		return payload{Updated: "v1"}, nil
	}

	_, err = Run(ctx, p, fetch, UntilChanged(updatedMarker))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(nil, Ceiling{MaxAttempts: 2}, Hooks{}); err == nil {
		t.Error("expected error for nil schedule")
	}
	if _, err := New(DefaultLadder(), Ceiling{}, Hooks{}); err == nil {
		t.Error("expected error for unbounded ceiling")
	}
	bad := Ladder{Initial: time.Minute, Steps: []Step{{Attempt: 2, Interval: time.Second}}}
	if _, err := New(bad, Ceiling{MaxAttempts: 2}, Hooks{}); err == nil {
		t.Error("expected error for decreasing ladder")
	}
	if _, err := New(DefaultLadder(), Ceiling{MaxAttempts: 1}, Hooks{}); err == nil {
		t.Error("expected error for a single-attempt ceiling")
	}
	if _, err := New(DefaultLadder(), Ceiling{MaxAttempts: 2}, Hooks{}); err != nil {
		t.Errorf("two-attempt ceiling rejected: %v", err)
	}
}

package ticker

import (
	"errors"
	"sync"
	"time"
)

// ErrExhausted is returned by Start when a ticker has nothing left to fire
var ErrExhausted = errors.New("ticker has no remaining occurrences")

// nextFunc returns the first fire time strictly after after, given how many
// times the ticker has fired. ok is false when the schedule is exhausted.
type nextFunc func(after time.Time, fired int) (at time.Time, ok bool)

// driver turns a nextFunc into timed sends on a channel. It can be stopped
// and started again; firing resumes from the current time.
type driver struct {
	location *time.Location
	next     nextFunc
	now      func() time.Time

	ch chan ExecutionContext

	mu        sync.Mutex
	stopCh    chan struct{}
	running   bool
	exhausted bool
	fired     int
}

func newDriver(loc *time.Location, next nextFunc) *driver {
	return &driver{
		location: loc,
		next:     next,
		now:      time.Now,
		ch:       make(chan ExecutionContext, 1),
	}
}

func (d *driver) Channel() <-chan ExecutionContext {
	return d.ch
}

func (d *driver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return nil
	}
	if d.exhausted {
		return ErrExhausted
	}

	d.running = true
	d.stopCh = make(chan struct{})
	go d.run(d.stopCh)
	return nil
}

func (d *driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}
	close(d.stopCh)
	d.running = false
	return nil
}

func (d *driver) NextRun() (*time.Time, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.exhausted {
		return nil, nil
	}
	at, ok := d.next(d.now().In(d.location), d.fired)
	if !ok {
		return nil, nil
	}
	return &at, nil
}

func (d *driver) run(stop <-chan struct{}) {
	from := d.now().In(d.location)
	for {
		d.mu.Lock()
		at, ok := d.next(from, d.fired)
		if !ok {
			d.exhausted = true
			d.running = false
			d.mu.Unlock()
			return
		}
		d.mu.Unlock()

		timer := time.NewTimer(at.Sub(d.now()))
		select {
		case <-timer.C:
		case <-stop:
			timer.Stop()
			return
		}

		d.mu.Lock()
		d.fired++
		_, more := d.next(at, d.fired)
		if !more {
			d.exhausted = true
			d.running = false
		}
		d.mu.Unlock()

		// A tick nobody is waiting for is dropped
		select {
		case d.ch <- ExecutionContext{ScheduledTime: at, ActualTime: d.now().In(d.location)}:
		default:
		}
		if !more {
			return
		}

		// Resume from the later of the slot and the clock, so a suspended
		// process does not replay every slot it slept through
		from = at
		if now := d.now().In(d.location); now.After(from) {
			from = now
		}
	}
}

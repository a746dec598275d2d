package clock

import (
	"context"
	"sync"
	"time"
)

// Fake is a manually advanced clock for tests. Advance moves the current time
// forward and fires any timers whose deadline has passed; sleeps return as
// soon as the clock passes their wake time.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*fakeWaiter
	timers  []*fakeTimer
}

type fakeWaiter struct {
	wake time.Time
	ch   chan struct{}
}

type fakeTimer struct {
	fake    *Fake
	fireAt  time.Time
	ch      chan time.Time
	stopped bool
	fired   bool
}

// NewFake creates a fake clock starting at the given time.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	f.mu.Lock()
	w := &fakeWaiter{wake: f.now.Add(d), ch: make(chan struct{})}
	f.waiters = append(f.waiters, w)
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.ch:
		return nil
	}
}

func (f *Fake) TimerIn(d time.Duration) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{fake: f, fireAt: f.now.Add(d), ch: make(chan time.Time, 1)}
	if d <= 0 {
		t.fired = true
		t.ch <- f.now
	} else {
		f.timers = append(f.timers, t)
	}
	return t
}

func (f *Fake) TimerAt(at time.Time) Timer {
	f.mu.Lock()
	d := at.Sub(f.now)
	f.mu.Unlock()
	return f.TimerIn(d)
}

// Advance moves the clock forward, waking sleepers and firing timers in order.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	now := f.now

	var waiters []*fakeWaiter
	for _, w := range f.waiters {
		if !w.wake.After(now) {
			close(w.ch)
		} else {
			waiters = append(waiters, w)
		}
	}
	f.waiters = waiters

	var timers []*fakeTimer
	for _, t := range f.timers {
		if t.stopped {
			continue
		}
		if !t.fireAt.After(now) {
			t.fired = true
			t.ch <- now
		} else {
			timers = append(timers, t)
		}
	}
	f.timers = timers
	f.mu.Unlock()
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }

func (t *fakeTimer) Stop() bool {
	t.fake.mu.Lock()
	defer t.fake.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Package clock abstracts time for the scheduler and refresh engine so tests
// can drive timers deterministically.
package clock

import (
	"context"
	"time"
)

// Timer is a one-shot timer handle. Stop cancels a timer that has not fired.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// Clock provides the time operations the core depends on.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in that case.
	Sleep(ctx context.Context, d time.Duration) error
	TimerIn(d time.Duration) Timer
	TimerAt(t time.Time) Timer
}

// Real is the wall-clock implementation used in production.
type Real struct{}

// New returns the production clock.
func New() *Real {
	return &Real{}
}

func (Real) Now() time.Time {
	return time.Now()
}

func (Real) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (Real) TimerIn(d time.Duration) Timer {
	return realTimer{time.NewTimer(d)}
}

func (r Real) TimerAt(t time.Time) Timer {
	return r.TimerIn(time.Until(t))
}

type realTimer struct {
	t *time.Timer
}

func (r realTimer) C() <-chan time.Time { return r.t.C }
func (r realTimer) Stop() bool          { return r.t.Stop() }

package wallclock

import (
	"context"
	"time"
)

type (
	// WallClock abstracts the subset of packages time and context that the SDK
	// uses for timestamps and deadlines, so tests can control apparent time.
	WallClock interface {
		Now() time.Time
		After(d time.Duration) <-chan time.Time
		NewTimer(d time.Duration) Timer
		WithTimeoutCause(
			parent context.Context,
			timeout time.Duration,
			cause error,
		) (context.Context, context.CancelFunc)
	}

	// Timer abstracts the functionality of time.Timer.
	Timer interface {
		C() <-chan time.Time
		Reset(d time.Duration) bool
		Stop() bool
	}

	systemClock struct{}

	systemTimer struct{ *time.Timer }
)

// Instance is the WallClock singleton consulted by all time-based code in the
// SDK. Test code can replace it to interpose on time.
var Instance WallClock = systemClock{}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

func (systemClock) NewTimer(d time.Duration) Timer {
	return systemTimer{time.NewTimer(d)}
}

func (systemClock) WithTimeoutCause(
	parent context.Context,
	timeout time.Duration,
	cause error,
) (context.Context, context.CancelFunc) {
	return context.WithTimeoutCause(parent, timeout, cause)
}

func (t systemTimer) C() <-chan time.Time {
	return t.Timer.C
}

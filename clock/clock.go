package clock

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

type (
	// Clock supplies the current time and timer channels. Every wait in the elector goes through it
	// so tests can drive time by hand.
	Clock = clockwork.Clock

	// FakeClock is a Clock that only moves when advanced.
	FakeClock = clockwork.FakeClock
)

// New returns a Clock backed by the system time.
func New() Clock {
	return clockwork.NewRealClock()
}

// NewFake returns a FakeClock pinned at the given instant.
func NewFake(at time.Time) FakeClock {
	return clockwork.NewFakeClockAt(at)
}

// SleepFor blocks for d on c or until ctx is done, in which case it returns ctx.Err().
func SleepFor(ctx context.Context, c Clock, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.After(d):
		return nil
	}
}

// SleepUntil blocks until t on c or until ctx is done.
func SleepUntil(ctx context.Context, c Clock, t time.Time) error {
	return SleepFor(ctx, c, t.Sub(c.Now()))
}

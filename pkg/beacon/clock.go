package beacon

import (
	"time"
)

// Clock abstracts time for the timer driven tasks.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// Timer is a stoppable one-shot timer.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// RealClock uses the time package.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

func (RealClock) NewTimer(d time.Duration) Timer {
	return realTimer{time.NewTimer(d)}
}

type realTimer struct {
	t *time.Timer
}

func (t realTimer) C() <-chan time.Time {
	return t.t.C
}

func (t realTimer) Stop() bool {
	return t.t.Stop()
}

func orRealClock(c Clock) Clock {
	if c == nil {
		return RealClock{}
	}
	return c
}

package clock

import (
	"sync"
	"time"
)

// Clock schedules callbacks. Every timeout, backoff delay, and periodic
// sweep in walletbridge goes through a Clock so tests can drive time.
type Clock interface {
	Now() time.Time

	// AfterFunc calls f in its own goroutine (real clock) or inline from
	// Fake.Advance once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a scheduled callback.
type Timer interface {
	// Stop prevents the callback from firing. It reports whether the
	// call stopped the timer before it fired.
	Stop() bool
}

type realClock struct{}

// Real returns the wall clock.
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Every runs f each interval until the returned stop function is called.
// The next run is scheduled after f returns, so runs never overlap.
func Every(c Clock, interval time.Duration, f func()) (stop func()) {
	var (
		mu      sync.Mutex
		stopped bool
		timer   Timer
	)

	var tick func()
	tick = func() {
		mu.Lock()
		if stopped {
			mu.Unlock()
			return
		}
		mu.Unlock()

		f()

		mu.Lock()
		if !stopped {
			timer = c.AfterFunc(interval, tick)
		}
		mu.Unlock()
	}

	mu.Lock()
	timer = c.AfterFunc(interval, tick)
	mu.Unlock()

	return func() {
		mu.Lock()
		defer mu.Unlock()
		stopped = true
		if timer != nil {
			timer.Stop()
		}
	}
}

// OrReal returns c, or the wall clock when c is nil.
func OrReal(c Clock) Clock {
	if c == nil {
		return Real()
	}
	return c
}

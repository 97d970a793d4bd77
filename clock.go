package conveyor

import "time"

// Clock is the time source used for backoff and polling sleeps.
// The default is the system clock; tests inject a fake one.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock returns the wall clock. time.Now carries a monotonic
// reading, so elapsed-time checks are immune to wall clock jumps.
func SystemClock() Clock {
	return systemClock{}
}

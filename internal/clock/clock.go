// Package clock provides cancellable scheduled tasks so reconnect timers can
// be stored with connection state and replaced in tests.
package clock

import "time"

type Timer interface {
	// Stop cancels the task. It reports false if the task already ran or
	// was already stopped.
	Stop() bool
}

type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
	Now() time.Time
}

type Real struct{}

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (Real) Now() time.Time {
	return time.Now()
}

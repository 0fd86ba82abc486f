// Package clock abstracts wall time and timers so the SDK can be driven
// deterministically in tests.
package clock

import "time"

type Timer interface {
	// Stop prevents the timer from firing. It reports whether the call
	// stopped the timer before it fired.
	Stop() bool
}

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

// Real is backed by the time package.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Ticker runs f every interval until the returned stop func is called.
func Ticker(c Clock, interval time.Duration, f func()) (stop func()) {
	t := &ticker{clock: c, interval: interval, fn: f}
	t.arm()
	return t.stop
}

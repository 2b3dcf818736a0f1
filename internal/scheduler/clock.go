package scheduler

import "time"

// Clock abstracts the time source so callers can be tested deterministically.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// NewRealClock returns the wall clock in UTC.
func NewRealClock() Clock {
	return realClock{}
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

package scheduler

import "time"

// Clock abstracts wall time so schedule firing is testable without sleeping.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// NewClock returns the wall clock.
func NewClock() Clock { return realClock{} }

// Package timer abstracts one-shot timers so session logic can run on real time in production and on a
// manually advanced clock in tests.
package timer

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Timer is a scheduled callback
type Timer interface {
	// Stop prevents the callback from firing. It returns false if the timer already fired or was stopped.
	Stop() bool
	// Reset reschedules the callback d from now. It returns true if the timer was pending.
	Reset(d time.Duration) bool
}

// Scheduler creates timers and tells the time
type Scheduler interface {
	Now() time.Time
	// AfterFunc calls fn once d has elapsed. The goroutine fn runs on depends on the implementation.
	AfterFunc(d time.Duration, fn func()) Timer
}

type clockScheduler struct {
	clock clock.Clock
}

// NewScheduler returns a Scheduler backed by c. Callbacks run on their own goroutine.
func NewScheduler(c clock.Clock) Scheduler {
	return &clockScheduler{clock: c}
}

func (s *clockScheduler) Now() time.Time {
	return s.clock.Now()
}

func (s *clockScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return s.clock.AfterFunc(d, fn)
}

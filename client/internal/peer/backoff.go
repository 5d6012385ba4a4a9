package peer

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// LinearBackOff waits base*n before the n-th retry and stops after max retries
type LinearBackOff struct {
	Base        time.Duration
	MaxAttempts int

	attempt int
}

var _ backoff.BackOff = (*LinearBackOff)(nil)

func NewLinearBackOff(base time.Duration, maxAttempts int) *LinearBackOff {
	return &LinearBackOff{Base: base, MaxAttempts: maxAttempts}
}

func (b *LinearBackOff) NextBackOff() time.Duration {
	b.attempt++
	if b.attempt > b.MaxAttempts {
		return backoff.Stop
	}
	return b.Base * time.Duration(b.attempt)
}

func (b *LinearBackOff) Reset() {
	b.attempt = 0
}

// Attempt returns the number of NextBackOff calls since the last Reset
func (b *LinearBackOff) Attempt() int {
	return b.attempt
}

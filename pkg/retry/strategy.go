package retry

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const MaxDelay = 30 * time.Second

var delays = []time.Duration{
	time.Second,
	time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
	MaxDelay,
}

// Delay maps a consecutive failure count to the wait before the next attempt.
func Delay(consecutiveFailures int) time.Duration {
	if consecutiveFailures <= 1 {
		return delays[0]
	}

	if consecutiveFailures >= len(delays) {
		return MaxDelay
	}

	return delays[consecutiveFailures]
}

// Strategy adapts a delay function to backoff.BackOff, counting failures
// between resets.
type Strategy struct {
	delay    func(int) time.Duration
	failures int
}

var _ backoff.BackOff = (*Strategy)(nil)

// NewStrategy returns a Strategy driven by delay, or by Delay if nil.
func NewStrategy(delay func(int) time.Duration) *Strategy {
	if delay == nil {
		delay = Delay
	}

	return &Strategy{delay: delay}
}

func (s *Strategy) NextBackOff() time.Duration {
	s.failures++

	return s.delay(s.failures)
}

func (s *Strategy) Reset() {
	s.failures = 0
}

// Package backoff computes growing retry and polling delays.
package backoff

import (
	"math"
	"time"
)

const (
	defaultInitial = 100 * time.Millisecond
	defaultMax     = 5 * time.Second
	defaultFactor  = 2.0
)

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial time.Duration // default: 100ms
	Max     time.Duration // default: 5s
	Factor  float64       // default: 2
}

func (c *Config) resolve() (initial, maxDelay time.Duration, factor float64) {
	initial, maxDelay, factor = defaultInitial, defaultMax, defaultFactor
	if c == nil {
		return
	}
	if c.Initial > 0 {
		initial = c.Initial
	}
	if c.Max > 0 {
		maxDelay = c.Max
	}
	if c.Factor > 1 {
		factor = c.Factor
	}
	return
}

// Exponential calculates the delay before a given attempt.
// Attempt 1 returns initial, attempt 2 returns initial*factor, etc.
func Exponential(attempt int, cfg *Config) time.Duration {
	initial, maxDelay, factor := cfg.resolve()
	if attempt < 1 {
		return initial
	}
	delay := float64(initial) * math.Pow(factor, float64(attempt-1))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	return time.Duration(delay)
}

// Sequence yields successive delays, multiplying by a factor after each
// one. Unlike Exponential it has no default cap. It is not safe for
// concurrent use.
type Sequence struct {
	factor float64
	max    time.Duration
	next   float64
}

// NewSequence starts a sequence at initial. A factor below 1 is treated
// as 1 and a max of zero leaves the sequence uncapped.
func NewSequence(initial time.Duration, factor float64, maxDelay time.Duration) *Sequence {
	if factor < 1 {
		factor = 1
	}
	return &Sequence{
		factor: factor,
		max:    maxDelay,
		next:   float64(initial),
	}
}

// Next returns the current delay and advances the sequence.
func (s *Sequence) Next() time.Duration {
	d := s.next
	if s.max > 0 && d > float64(s.max) {
		d = float64(s.max)
	}
	s.next *= s.factor
	if s.max > 0 && s.next > float64(s.max) {
		s.next = float64(s.max)
	}
	return time.Duration(d)
}

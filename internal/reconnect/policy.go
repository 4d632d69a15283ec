// Package reconnect computes the wait between reconnection attempts.
//
// The delay grows by a factor of 1.5 per attempt, is capped, and is then
// spread by a ±15% jitter so that many clients dropped by the same outage
// do not reconnect in lockstep.
package reconnect

import (
	"math"
	"math/rand"
	"time"
)

const (
	growthFactor = 1.5
	jitterMin    = 0.85
	jitterSpread = 0.30
)

// Defaults match the browser client this package replaces.
const (
	DefaultBase        = 1 * time.Second
	DefaultCap         = 30 * time.Second
	DefaultMaxAttempts = 10
)

// Policy holds the reconnection parameters.
type Policy struct {
	Base        time.Duration // Initial backoff unit
	Cap         time.Duration // Max single-retry delay (before jitter)
	MaxAttempts int           // Total retries before terminal failure

	// rand returns a value in [0, 1). Replaced in tests.
	rand func() float64
}

// NewPolicy creates a Policy using math/rand for jitter.
func NewPolicy(base, cap time.Duration, maxAttempts int) *Policy {
	return &Policy{
		Base:        base,
		Cap:         cap,
		MaxAttempts: maxAttempts,
		rand:        rand.Float64,
	}
}

// DefaultPolicy returns a Policy with the default parameters.
func DefaultPolicy() *Policy {
	return NewPolicy(DefaultBase, DefaultCap, DefaultMaxAttempts)
}

// WithRand returns a copy of p drawing jitter from fn.
func (p *Policy) WithRand(fn func() float64) *Policy {
	cp := *p
	cp.rand = fn
	return &cp
}

// Delay returns the wait before retry number attempt (attempt >= 1).
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(math.Floor(p.Ceiling(attempt)*p.jitter())) * time.Millisecond
}

// Ceiling returns min(Base*1.5^attempt, Cap) in milliseconds, before jitter.
func (p *Policy) Ceiling(attempt int) float64 {
	base := float64(p.Base) / float64(time.Millisecond)
	capMs := float64(p.Cap) / float64(time.Millisecond)
	return math.Min(base*math.Pow(growthFactor, float64(attempt)), capMs)
}

// Exhausted reports whether attempts has used up the retry budget.
func (p *Policy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

func (p *Policy) jitter() float64 {
	r := p.rand
	if r == nil {
		r = rand.Float64
	}
	return jitterMin + r()*jitterSpread
}

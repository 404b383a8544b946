package queue

import (
	"fmt"
	"time"
)

// Policy holds the retry and backoff parameters.
type Policy struct {
	// BaseDelay is the wait before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the un-jittered delay.
	MaxDelay time.Duration

	// JitterMin and JitterMax bound the random factor applied to each delay.
	JitterMin float64
	JitterMax float64

	// DefaultMaxRetries applies to operations enqueued without MaxRetries.
	DefaultMaxRetries int
}

// DefaultPolicy returns 1s base, 60s cap, jitter in [0.75, 1.25], and
// three attempts per operation.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:         time.Second,
		MaxDelay:          60 * time.Second,
		JitterMin:         0.75,
		JitterMax:         1.25,
		DefaultMaxRetries: 3,
	}
}

// Validate reports the first invalid field.
func (p Policy) Validate() error {
	switch {
	case p.BaseDelay <= 0:
		return fmt.Errorf("base delay must be positive, got %s", p.BaseDelay)
	case p.MaxDelay < p.BaseDelay:
		return fmt.Errorf("max delay %s is below base delay %s", p.MaxDelay, p.BaseDelay)
	case p.JitterMin <= 0 || p.JitterMax < p.JitterMin:
		return fmt.Errorf("jitter range [%g, %g] is invalid", p.JitterMin, p.JitterMax)
	case p.DefaultMaxRetries <= 0:
		return fmt.Errorf("default max retries must be positive, got %d", p.DefaultMaxRetries)
	}
	return nil
}

// Delay returns min(BaseDelay * 2^(retry-1), MaxDelay). Zero for retry <= 0.
func (p Policy) Delay(retry int) time.Duration {
	if retry <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < retry && d < p.MaxDelay; i++ {
		d *= 2
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Backoff returns Delay(retry) scaled by a jitter factor drawn from r,
// a uniform sample in [0, 1).
func (p Policy) Backoff(retry int, r float64) time.Duration {
	d := p.Delay(retry)
	if d == 0 {
		return 0
	}
	r = min(max(r, 0), 1)
	factor := p.JitterMin + r*(p.JitterMax-p.JitterMin)
	return time.Duration(float64(d) * factor)
}

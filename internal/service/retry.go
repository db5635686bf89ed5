package service

import "time"

// RetryPolicy bounds transient delivery retries.
type RetryPolicy struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Backoff returns the delay before retry number n (1-based): BaseBackoff doubled per retry,
// capped at MaxBackoff. It never decreases as n grows.
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.BaseBackoff
	for i := 1; i < n; i++ {
		if p.MaxBackoff > 0 && d >= p.MaxBackoff/2 {
			d = p.MaxBackoff
			break
		}
		d *= 2
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

// Exhausted reports whether a task that already failed nRetries times must be abandoned on
// its next transient failure.
func (p RetryPolicy) Exhausted(nRetries int) bool {
	return nRetries >= p.MaxRetries
}

package realtime

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// reconnectBackoff yields min(base*2^n, max) for the n-th consecutive retry.
type reconnectBackoff struct {
	exp  *backoff.ExponentialBackOff
	base time.Duration
	max  time.Duration
	next time.Duration
}

func newReconnectBackoff(base, max time.Duration) *reconnectBackoff {
	r := &reconnectBackoff{
		exp: &backoff.ExponentialBackOff{
			InitialInterval:     base,
			RandomizationFactor: 0,
			Multiplier:          2,
			MaxInterval:         max,
		},
		base: base,
		max:  max,
	}
	r.Reset()
	return r
}

// Next returns the delay for the upcoming retry and advances the sequence.
func (r *reconnectBackoff) Next() time.Duration {
	d := r.exp.NextBackOff()
	if d > r.max {
		d = r.max
	}
	r.next = min(d*2, r.max)
	return d
}

// Peek returns the delay Next will return.
func (r *reconnectBackoff) Peek() time.Duration {
	return r.next
}

// Reset restarts the sequence at base.
func (r *reconnectBackoff) Reset() {
	r.exp.Reset()
	r.next = min(r.base, r.max)
}

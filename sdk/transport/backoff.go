package transport

import (
	"math/rand/v2"
	"time"
)

const jitterFraction = 0.1

// Backoff computes min(Max, Base*2^n) plus a jitter drawn uniformly from
// [0, 10%) of that delay.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
	// Rand returns a value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

func (b Backoff) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := b.Base
	for i := 0; i < n && d < b.Max; i++ {
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}
	r := b.Rand
	if r == nil {
		r = rand.Float64
	}
	return d + time.Duration(r()*jitterFraction*float64(d))
}

package polling

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// backoffTimer wraps backoff.ExponentialBackOff configured for pure
// doubling (no jitter): base, 2x base, 4x base, ... capped at max. A fresh
// timer's first NextBackOff() call returns base, matching the "5s, 10s,
// 20s..." schedule a consecutive-failure counter would produce.
type backoffTimer struct {
	b *backoff.ExponentialBackOff
}

func newBackoffTimer(base, max time.Duration) backoffTimer {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0 // never give up
	b.Reset()
	return backoffTimer{b: b}
}

func (t *backoffTimer) NextBackOff() time.Duration {
	if t.b == nil {
		return 0
	}
	return t.b.NextBackOff()
}

func (t *backoffTimer) Reset() {
	if t.b != nil {
		t.b.Reset()
	}
}

package transport

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const DefaultReconnectInterval = 5 * time.Second

// unboundedBackoff caps a backoff without Max, leaving room for full jitter.
const unboundedBackoff = time.Duration(math.MaxInt64 / 4)

// ReconnectPolicy decides how long to wait before the attempt-th retry (1-based).
// A false result means stop retrying.
type ReconnectPolicy interface {
	NextDelay(attempt int) (time.Duration, bool)
}

// FixedInterval retries every Interval. MaxAttempts of zero retries forever.
type FixedInterval struct {
	Interval    time.Duration
	MaxAttempts int
}

func (p FixedInterval) NextDelay(attempt int) (time.Duration, bool) {
	if p.MaxAttempts > 0 && attempt > p.MaxAttempts {
		return 0, false
	}
	if p.Interval <= 0 {
		return DefaultReconnectInterval, true
	}
	return p.Interval, true
}

// ExponentialBackoff grows the delay by Multiplier per attempt up to Max and spreads it by
// +/- Jitter (a fraction of the delay).
type ExponentialBackoff struct {
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	Jitter      float64
	MaxAttempts int
}

func (p ExponentialBackoff) NextDelay(attempt int) (time.Duration, bool) {
	if p.MaxAttempts > 0 && attempt > p.MaxAttempts {
		return 0, false
	}
	b := p.backOff()
	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay, true
}

func (p ExponentialBackoff) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Second
	}
	b.Multiplier = p.Multiplier
	if b.Multiplier < 1 {
		b.Multiplier = 2
	}
	b.MaxInterval = p.Max
	if b.MaxInterval <= 0 {
		b.MaxInterval = unboundedBackoff
	}
	b.RandomizationFactor = min(max(p.Jitter, 0), 1)
	b.Reset()
	return b
}

// Never disables reconnection.
type Never struct{}

func (Never) NextDelay(int) (time.Duration, bool) { return 0, false }

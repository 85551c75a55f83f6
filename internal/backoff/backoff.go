package backoff

import (
	"math/rand"
	"time"
)

// Backoff computes exponential delays capped at Max. With Jitter disabled
// durations never decrease as attempt grows.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	Jitter bool
}

func New(min, max time.Duration, factor float64) Backoff {
	return Backoff{
		Min:    min,
		Max:    max,
		Factor: factor,
	}
}

func (b Backoff) Duration(attempt int) time.Duration {
	if attempt <= 0 {
		return b.Min
	}

	duration := float64(b.Min) * pow(b.Factor, attempt-1)

	if duration > float64(b.Max) {
		duration = float64(b.Max)
	}

	if b.Jitter {
		duration = duration * (0.5 + rand.Float64()*0.5)
	}

	return time.Duration(duration)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
		// avoid overflowing past +Inf for large attempt counts
		if result > 1e18 {
			return result
		}
	}
	return result
}

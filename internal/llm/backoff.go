package llm

import (
	"math/rand"
	"time"
)

// Backoff returns the delay before the next attempt. The delay doubles per
// attempt from base, capped at maxDelay, with up to 20% jitter taken from
// the supplied source. A nil source disables jitter.
func Backoff(base, maxDelay time.Duration, attempt int, rng *rand.Rand) time.Duration {
	if base <= 0 {
		return 0
	}
	if maxDelay <= 0 {
		maxDelay = base
	}
	if attempt < 1 {
		attempt = 1
	}

	// attempt 1 -> base, attempt 2 -> base*2, attempt 3 -> base*4, ...
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	if delay > maxDelay {
		delay = maxDelay
	}

	if rng != nil {
		jitter := time.Duration(float64(delay) * 0.2 * (rng.Float64()*2 - 1))
		delay += jitter
		if delay < 0 {
			delay = 0
		}
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return delay
}

package retry

import (
	"math/rand/v2"
	"time"
)

// jitterDivisor bounds the random extra at 25% of the capped delay.
const jitterDivisor = 4

// CalculateDelay returns the backoff before the attempt that follows attempt
// (0-based): min(BaseDelay*2^attempt, MaxDelay) plus a uniform jitter of up to
// 25% of that value. The result always lies in [capped, capped*1.25].
func CalculateDelay(attempt int, p Policy) time.Duration {
	capped := exponential(p.BaseDelay, p.MaxDelay, attempt)
	if capped <= 0 {
		return 0
	}

	jitter := time.Duration(rand.Int64N(int64(capped)/jitterDivisor + 1)) // #nosec G404 -- jitter, not security
	return capped + jitter.Truncate(time.Millisecond)
}

// ExpectedBase returns the delay CalculateDelay jitters, without the jitter.
func ExpectedBase(attempt int, p Policy) time.Duration {
	return exponential(p.BaseDelay, p.MaxDelay, attempt)
}

// exponential doubles base attempt times, stopping at max without overflowing.
func exponential(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}

	d := base
	for i := 0; i < attempt; i++ {
		if d > max/2 {
			return max
		}
		d *= 2
	}
	if d > max {
		return max
	}
	return d
}

// Package pacing governs request timing against flaky upstream sources:
// jittered exponential backoff for retries, and an adaptive per-session
// pacer with a circuit breaker for scraped (non-API) indexers. Nothing in
// this package sleeps; callers honor the returned delays themselves.
package pacing

import (
	"math"
	"math/rand"
	"time"
)

// JitteredBackoff returns 2^attempt * base scaled by a uniform random
// factor in [0.5, 1.5). The jitter keeps a burst of failures from
// retrying in lockstep. attempt 0 is the first retry.
func JitteredBackoff(attempt int, base time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 { // overflow guard; real attempts stay single-digit
		attempt = 30
	}
	d := float64(base) * math.Pow(2, float64(attempt))
	u := 0.5 + rand.Float64()
	return time.Duration(math.Round(d * u))
}

// randBetween returns a uniform random duration in [min, max).
func randBetween(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

package resilience

import (
	"math/rand"
	"time"
)

// Backoff returns an exponential delay for attempt, capped at max when max is
// positive. jitterPct is a fraction, e.g. 0.2 for ±20%.
func Backoff(base time.Duration, attempt int, jitterPct float64, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	if attempt > 30 {
		attempt = 30
	}
	d := base * time.Duration(1<<uint(attempt-1))
	if max > 0 && (d > max || d <= 0) {
		d = max
	}
	if jitterPct <= 0 {
		return d
	}
	delta := (rand.Float64()*2 - 1) * float64(d) * jitterPct
	return d + time.Duration(delta)
}

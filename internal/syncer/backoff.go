package syncer

import (
	"math"
	"time"
)

// Backoff is a capped exponential retry schedule.
type Backoff struct {
	Base   time.Duration
	Factor float64
	Cap    time.Duration
}

// DefaultBackoff starts at 2s, doubles, and caps at 5 minutes.
func DefaultBackoff() Backoff {
	return Backoff{Base: 2 * time.Second, Factor: 2, Cap: 5 * time.Minute}
}

// Delay returns the wait before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.Base) * math.Pow(b.Factor, float64(attempt-1))
	if d > float64(b.Cap) || math.IsInf(d, 0) || math.IsNaN(d) {
		return b.Cap
	}
	return time.Duration(d)
}

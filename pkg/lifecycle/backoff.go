package lifecycle

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig shapes the delay before each reconnection attempt.
type BackoffConfig struct {
	// Initial is the delay before the first retry.
	Initial time.Duration

	// Max caps any single delay. Zero means uncapped.
	Max time.Duration

	// Multiplier grows the delay between attempts. Values below 1 mean 2.
	Multiplier float64

	// Linear grows the delay as Initial*attempt instead of geometrically.
	Linear bool

	// MaxAttempts bounds the attempts of one cycle. Zero means unbounded.
	MaxAttempts int

	// Jitter randomises each delay by ±Jitter (0.2 = ±20%).
	Jitter float64
}

// ReconnectBackoff is the shape used after an established link drops:
// 2s, 4s, 8s, 16s, 32s.
func ReconnectBackoff() BackoffConfig {
	return BackoffConfig{
		Initial:     2 * time.Second,
		Max:         32 * time.Second,
		Multiplier:  2,
		MaxAttempts: 5,
	}
}

// InitialConnectBackoff is the shape used while first establishing a link:
// attempts spaced 1s then 2s apart.
func InitialConnectBackoff() BackoffConfig {
	return BackoffConfig{
		Initial:     time.Second,
		Linear:      true,
		MaxAttempts: 3,
	}
}

// Delay returns the delay for the 1-based attempt, without jitter.
func (c BackoffConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	var d float64
	if c.Linear {
		d = float64(c.Initial) * float64(attempt)
	} else {
		m := c.Multiplier
		if m < 1 {
			m = 2
		}
		d = float64(c.Initial) * math.Pow(m, float64(attempt-1))
	}
	if c.Max > 0 && d > float64(c.Max) {
		d = float64(c.Max)
	}
	return time.Duration(d)
}

// Jittered applies the configured jitter to d.
func (c BackoffConfig) Jittered(d time.Duration, rng *rand.Rand) time.Duration {
	if c.Jitter <= 0 || rng == nil || d <= 0 {
		return d
	}
	delta := float64(d) * c.Jitter * (rng.Float64()*2 - 1)
	out := time.Duration(float64(d) + delta)
	if out < 0 {
		return 0
	}
	return out
}

// Exhausted reports whether attempt is the last one allowed.
func (c BackoffConfig) Exhausted(attempt int) bool {
	return c.MaxAttempts > 0 && attempt >= c.MaxAttempts
}

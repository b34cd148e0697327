package relay

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// delayFor returns the redial delay for attempt N (1-based). With jitter the
// delay is scaled by a factor in [0.5, 1.5) and never exceeds MaxDelay.
func delayFor(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	mult := cfg.Multiplier
	if mult < 1.0 {
		mult = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if cfg.Jitter && rng != nil {
		delay *= 0.5 + rng.Float64()
	}
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}

// Backoff counts consecutive failed dials. It is not safe for concurrent use.
type Backoff struct {
	cfg     BackoffConfig
	rng     *rand.Rand
	attempt int
}

func NewBackoff(cfg BackoffConfig, seed int64) *Backoff {
	return &Backoff{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

// Next records a failed attempt and returns how long to wait before the next.
func (b *Backoff) Next() time.Duration {
	b.attempt++
	return delayFor(b.cfg, b.attempt, b.rng)
}

// Attempts is the number of failures since the last Reset.
func (b *Backoff) Attempts() int { return b.attempt }

func (b *Backoff) Reset() { b.attempt = 0 }

// Wait sleeps for Next() or until ctx is done.
func (b *Backoff) Wait(ctx context.Context) error {
	d := b.Next()
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

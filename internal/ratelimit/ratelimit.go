package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter enforces a global minimum interval between outbound requests.
// The pacing is shared across every caller, so the system-wide request
// rate never exceeds one per interval regardless of worker count.
type Limiter struct {
	limiter *rate.Limiter
}

// New builds a limiter admitting at most one request per minInterval.
// A zero or negative interval disables pacing.
func New(minInterval time.Duration) *Limiter {
	if minInterval <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	// Burst 1: a token becomes available exactly every minInterval, so
	// two admissions can never be closer together than the interval.
	return &Limiter{limiter: rate.NewLimiter(rate.Every(minInterval), 1)}
}

// Admit blocks until the pacing rule grants the caller a slot. It only
// fails when ctx is cancelled while waiting.
func (l *Limiter) Admit(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

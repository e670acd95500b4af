package broker

import (
	"context"

	"golang.org/x/time/rate"
)

// newLimiter builds a token-bucket limiter allowing ratePerSecond requests
// per second with a burst of the same size. Grounded on the rate-limited
// HTTP client in the pack's Polymarket CLOB adapter, used here in place of
// the teacher's hand-rolled token bucket so every broker client shares one
// well-tested implementation.
func newLimiter(ratePerSecond float64) *rate.Limiter {
	if ratePerSecond <= 0 {
		ratePerSecond = 5
	}
	return rate.NewLimiter(rate.Limit(ratePerSecond), int(ratePerSecond))
}

func acquire(ctx context.Context, l *rate.Limiter) error {
	return l.Wait(ctx)
}

// limiterHandle is the small struct broker clients embed so the limiter
// itself can be swapped or inspected without changing every call site.
type limiterHandle struct {
	l *rate.Limiter
}

func newLimiterHandle(ratePerSecond float64) *limiterHandle {
	return &limiterHandle{l: newLimiter(ratePerSecond)}
}

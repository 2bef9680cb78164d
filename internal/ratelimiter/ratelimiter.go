// Package ratelimiter implements a token-bucket gate on outbound
// DataLoader calls, over golang.org/x/time/rate (the corpus's own rate
// limiting dependency, pulled from the fazt-sh reference repo) rather
// than a hand-rolled bucket.
package ratelimiter

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// ErrBurstExceedsCapacity is returned when a single operation could never
// be admitted even with an empty bucket (capacity misconfigured at 0).
var ErrBurstExceedsCapacity = errors.New("ratelimiter: burst exceeds bucket capacity")

// WaitRecorder is notified whenever an operation had to be deferred
// because no token was available yet.
type WaitRecorder interface {
	IncDeferred()
}

// RateLimiter gates operation starts behind a token bucket: capacity C
// tokens, refill rate R tokens/second. Reservations are granted in the
// order Execute is called, since x/time/rate.Limiter.Reserve charges the
// bucket synchronously at call time — a later caller always sees a delay
// at least as long as an earlier one's.
type RateLimiter struct {
	limiter *rate.Limiter
	metrics WaitRecorder
}

// New builds a RateLimiter with the given burst capacity and refill rate
// in tokens/second. Default tuning (see config.Default) is generous
// enough that normal traffic is never throttled; the limiter exists to
// smooth bursts, not to cap steady-state throughput.
func New(capacity int, refillPerSecond float64, metrics WaitRecorder) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(refillPerSecond), capacity),
		metrics: metrics,
	}
}

// Execute runs fn once a token is available, or returns ctx.Err() if ctx
// is cancelled first. The returned bool reports whether a token was
// actually consumed — false for a cancelled wait, since a cancelled
// operation shouldn't spend capacity it never used.
func (r *RateLimiter) Execute(ctx context.Context, fn func(ctx context.Context) error) (consumed bool, err error) {
	if r.limiter.Allow() {
		return true, fn(ctx)
	}

	reservation := r.limiter.ReserveN(time.Now(), 1)
	if !reservation.OK() {
		return false, ErrBurstExceedsCapacity
	}

	delay := reservation.Delay()
	if delay <= 0 {
		return true, fn(ctx)
	}

	if r.metrics != nil {
		r.metrics.IncDeferred()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		reservation.Cancel()
		return false, ctx.Err()
	case <-timer.C:
		return true, fn(ctx)
	}
}

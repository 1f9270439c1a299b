package ratelimit

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// Clock supplies the time source and sleep used for pacing. Tests inject a
// fake clock so pacing can be asserted without wall-clock delays.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the real Clock.
type SystemClock struct{}

// Now returns the wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// Sleep waits on a timer for d, returning early with ctx.Err() if ctx is
// done first.
func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Limiter paces requests to a single provider: at most one request may
// start per interval. It also performs fixed pauses (batch gaps, retry
// backoff) through the same clock.
type Limiter struct {
	limiter *rate.Limiter
	clock   Clock
}

// New creates a Limiter allowing one request per interval. An interval of
// zero disables pacing. A nil clock means SystemClock.
func New(interval time.Duration, clock Clock) *Limiter {
	if clock == nil {
		clock = SystemClock{}
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Limiter{
		limiter: rate.NewLimiter(limit, 1),
		clock:   clock,
	}
}

// Wait blocks until the next request may start.
// It returns an error if the context is canceled before the slot opens.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := l.clock.Now()
	r := l.limiter.ReserveN(now, 1)
	if !r.OK() {
		return errors.New("rate limiter cannot grant a request")
	}

	delay := r.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	if err := l.clock.Sleep(ctx, delay); err != nil {
		r.CancelAt(l.clock.Now())
		return err
	}
	return nil
}

// Pause sleeps for a fixed duration. Zero or negative durations return
// immediately unless ctx is already done.
func (l *Limiter) Pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	return l.clock.Sleep(ctx, d)
}

// Now returns the limiter's clock time.
func (l *Limiter) Now() time.Time {
	return l.clock.Now()
}

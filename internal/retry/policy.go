// Package retry provides the explicit retry policy shared by the forwarder,
// the origin client and the stream ingestor. A Policy describes bounded
// exponential backoff; callers decide which errors are retryable.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy defines exponential backoff parameters.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	// Zero or negative means retry without bound.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Factor      float64
}

// Default is the policy applied to forwarding and origin acknowledge calls:
// three total attempts, 1s/2s pauses between them.
var Default = Policy{
	MaxAttempts: 3,
	BaseDelay:   1 * time.Second,
	MaxDelay:    30 * time.Second,
	Factor:      2.0,
}

// Backoff computes the delay before try number attempt+1 using
// delay = min(BaseDelay * Factor^attempt, MaxDelay). attempt is zero-based.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(p.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= p.Factor
	}
	d := time.Duration(delay)
	if d > p.MaxDelay || d < 0 {
		d = p.MaxDelay
	}
	return d
}

// Jittered returns a uniformly random duration in [0, Backoff(attempt)].
// Full jitter; used by the ingestor for read-error reconnects.
func (p Policy) Jittered(attempt int) time.Duration {
	d := p.Backoff(attempt)
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}

// Do runs fn up to p.MaxAttempts times, sleeping Backoff between tries.
// retryable decides whether a failure is worth another try; a non-retryable
// error is returned immediately. Respects ctx during the backoff sleeps.
func (p Policy) Do(ctx context.Context, fn func() error, retryable func(error) bool) error {
	var err error
	for attempt := 0; p.MaxAttempts <= 0 || attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			if serr := Sleep(ctx, p.Backoff(attempt-1)); serr != nil {
				return serr
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
	}
	return err
}

// Sleep waits for d or until ctx is cancelled, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"davsync/internal/domain"
)

// Operation represents a function that can be retried.
type Operation func() error

// Policy executes remote operations with capped exponential backoff:
// up to MaxAttempts tries, delays of BaseDelay*2^(attempt-1) in between.
// Non-transient errors (4xx except 408) and context cancellation are
// surfaced immediately.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Clock       clockwork.Clock
	Log         *zap.Logger
}

// NewPolicy returns the default transport policy: 3 attempts, 1s base delay.
func NewPolicy(clock clockwork.Clock, log *zap.Logger) *Policy {
	return &Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Clock:       clock,
		Log:         log,
	}
}

// Do runs op under the policy. The returned error is the last attempt's.
func (p *Policy) Do(ctx context.Context, name string, op Operation) error {
	bo := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.BaseDelay),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxElapsedTime(0),
	)

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if !domain.Transient(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := bo.NextBackOff()
		p.Log.Warn("transient failure, retrying",
			zap.String("op", name),
			zap.Int("attempt", attempt),
			zap.Int("max", p.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-p.Clock.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

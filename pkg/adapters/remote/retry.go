package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/aretw0/tilvault/internal/metrics"
)

// backoff is the policy applied to every remote call: exponential with
// jitter, capped per wait and bounded in attempts.
func (b *Backend) backoff() retry.Backoff {
	policy := retry.NewExponential(b.config.BaseDelay)
	policy = retry.WithJitterPercent(10, policy)
	policy = retry.WithCappedDuration(b.config.MaxDelay, policy)
	return retry.WithMaxRetries(b.config.MaxRetries, policy)
}

// call runs fn under a per-call timeout and retries rate limits, transient
// failures and timeouts. Other errors, authorization failures included,
// are returned at once.
func (b *Backend) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	attempt := 0

	err := retry.Do(ctx, b.backoff(), func(ctx context.Context) error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, b.config.CallTimeout)
		defer cancel()

		err := fn(callCtx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %s timed out after %s: %w", ErrTransient, op, b.config.CallTimeout, err)
		}
		if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransient) {
			metrics.StoreRetries.WithLabelValues(b.config.Name, op).Inc()
			b.logger.Debug("retrying remote call", "op", op, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})

	metrics.StoreDuration.WithLabelValues(b.config.Name, op).Observe(time.Since(start).Seconds())
	metrics.StoreCalls.WithLabelValues(b.config.Name, op, result(err)).Inc()
	if err != nil && attempt > 1 {
		b.logger.Warn("remote call failed after retries", "op", op, "attempts", attempt, "error", err)
	}
	return err
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrFileNotFound):
		return "not_found"
	case errors.Is(err, ErrFileExists), errors.Is(err, ErrRevisionMismatch):
		return "conflict"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	default:
		return "error"
	}
}

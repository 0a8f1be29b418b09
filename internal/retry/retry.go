// Package retry provides a reusable bounded retry policy with exponential
// backoff, applied around the transient-fault-prone pipeline stages.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Policy retries an operation with exponential backoff. Only errors accepted
// by the classifier are retried; everything else fails immediately.
type Policy struct {
	maxAttempts int
	initial     time.Duration
	max         time.Duration
	isRetryable func(error) bool
	logger      *zap.Logger
}

// NewPolicy creates a retry policy. maxAttempts counts the initial attempt,
// so maxAttempts=3 retries at most twice. A nil classifier retries everything.
func NewPolicy(maxAttempts int, initial, max time.Duration, isRetryable func(error) bool, logger *zap.Logger) *Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Policy{
		maxAttempts: maxAttempts,
		initial:     initial,
		max:         max,
		isRetryable: isRetryable,
		logger:      logger,
	}
}

// Do runs op under the policy, honoring context cancellation between attempts.
func (p *Policy) Do(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.initial
	bo.MaxInterval = p.max
	bo.MaxElapsedTime = 0

	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if p.isRetryable != nil && !p.isRetryable(err) {
			return backoff.Permanent(err)
		}
		if attempt < p.maxAttempts {
			p.logger.Warn("Transient failure, will retry",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", p.maxAttempts),
				zap.Error(err))
		}
		return err
	}

	return backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(p.maxAttempts-1)), ctx))
}

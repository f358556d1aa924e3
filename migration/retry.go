package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/chainwire/migrator/deployment"
	"github.com/chainwire/migrator/pkg/logger"
)

// RetryPolicy defines the arguments to control the retry behavior of transient failures.
type RetryPolicy struct {
	MaxAttempts  uint
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryPolicy retries a transient failure up to 5 times with exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
	}
}

func (p RetryPolicy) attempts() uint {
	// 0 would retry forever
	return max(p.MaxAttempts, 1)
}

// options returns the 'avast/retry' functional options for the retry policy.
func (p RetryPolicy) options() []retry.Option {
	opts := []retry.Option{
		retry.Attempts(p.attempts()),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	}
	if p.InitialDelay > 0 {
		opts = append(opts, retry.Delay(p.InitialDelay))
	}
	if p.MaxDelay > 0 {
		opts = append(opts, retry.MaxDelay(p.MaxDelay))
	}

	return opts
}

// withRetry runs fn until it succeeds, fails with a non transient error or the attempts run
// out. A transient error outliving the policy is wrapped in deployment.ErrRetriesExhausted.
func withRetry[T any](
	ctx context.Context, p RetryPolicy, lggr logger.Logger, what string, fn func() (T, error),
) (T, uint, error) {
	var attempts uint

	opts := p.options()
	opts = append(opts,
		retry.Context(ctx),
		retry.OnRetry(func(attempt uint, err error) {
			if attempt+1 < p.attempts() {
				lggr.Infow("Action failed. Retrying...", "action", what, "attempt", attempt+1, "error", err)
			}
		}),
	)

	out, err := retry.DoWithData(func() (T, error) {
		attempts++
		v, err := fn()
		if err != nil && !deployment.IsTransient(err) {
			return v, retry.Unrecoverable(err)
		}

		return v, err
	}, opts...)
	if err != nil && deployment.IsTransient(err) {
		err = fmt.Errorf("%w: %s failed %d times: %w", deployment.ErrRetriesExhausted, what, attempts, err)
	}

	return out, attempts, err
}

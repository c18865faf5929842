package synchro

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const defaultRetryAttempts = 5

// Reconnector tries to restore connectivity and reports the outcome.
type Reconnector interface {
	Check(ctx context.Context) bool
}

// RetryOptions tunes RetryWhenOnline.
type RetryOptions struct {
	InitialInterval time.Duration
	MaxAttempts     uint64
}

// RetryWhenOnline runs operation and, while it fails with ErrNetworkOffline,
// asks reconnector to restore the network and retries with exponential
// backoff. Any other error ends the retries immediately.
func RetryWhenOnline(ctx context.Context, reconnector Reconnector, operation func(context.Context) error, opts RetryOptions) error {
	policy := backoff.NewExponentialBackOff()
	if opts.InitialInterval > 0 {
		policy.InitialInterval = opts.InitialInterval
	}
	attempts := opts.MaxAttempts
	if attempts == 0 {
		attempts = defaultRetryAttempts
	}
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, attempts-1), ctx)

	first := true
	return backoff.Retry(func() error {
		if !first && reconnector != nil && !reconnector.Check(ctx) {
			return ErrNetworkOffline
		}
		first = false
		err := operation(ctx)
		if err == nil || errors.Is(err, ErrNetworkOffline) {
			return err
		}
		return backoff.Permanent(err)
	}, retry)
}

package db

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	retryBaseDelay  = 50 * time.Millisecond
	retryMaxDelay   = time.Second
	retryMaxRetries = 3
)

// Retry runs fn, retrying transient storage errors with capped exponential
// backoff. Non-transient errors are returned immediately.
func Retry(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	backoff := retry.NewExponential(retryBaseDelay)
	backoff = retry.WithCappedDuration(retryMaxDelay, backoff)
	backoff = retry.WithMaxRetries(retryMaxRetries, backoff)
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if errRun := fn(ctx); errRun != nil {
			if IsTransient(errRun) {
				return retry.RetryableError(errRun)
			}
			return errRun
		}
		return nil
	})
}

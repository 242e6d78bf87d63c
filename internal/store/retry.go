package store

import (
	"context"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

// lockRetryOpts covers transient "database is locked" errors when the
// maintenance CLI and a serving process share the SQLite file. Three
// attempts with linear backoff.
func lockRetryOpts(ctx context.Context) []retry.Option {
	return []retry.Option{
		retry.Attempts(3),
		retry.Delay(100 * time.Millisecond),
		retry.MaxDelay(300 * time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isLockError),
		retry.Context(ctx),
	}
}

func withLockRetry(ctx context.Context, fn func() error) error {
	return retry.Do(fn, lockRetryOpts(ctx)...)
}

func withLockRetryResult[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	return retry.DoWithData(fn, lockRetryOpts(ctx)...)
}

func isLockError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "database is locked")
}

package repository

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	defaultConflictRetries = 5
	conflictBackoffBase    = 10 * time.Millisecond
)

// withConflictRetry runs f until it succeeds, fails with a non-retryable
// error, or exhausts the retry budget. f marks version conflicts with
// retry.RetryableError.
func withConflictRetry(ctx context.Context, retries uint64, f retry.RetryFunc) error {
	b := retry.NewExponential(conflictBackoffBase)
	b = retry.WithJitterPercent(20, b)
	b = retry.WithMaxRetries(retries, b)
	return retry.Do(ctx, b, f)
}

package dispatcher

import (
	"context"
	"errors"
	"time"

	storeerrors "github.com/vinaes/succ-amanstore/internal/errors"
)

// transientRetryConfig implements §7's TransientBackendError contract: retry
// once with a 1s pause, then surface. Built on the teacher's generic
// storeerrors.Retry rather than a hand-rolled one-off loop, narrowed to a
// single retry by MaxRetries.
var transientRetryConfig = storeerrors.RetryConfig{
	MaxRetries:   1,
	InitialDelay: time.Second,
	MaxDelay:     time.Second,
	Multiplier:   1,
}

// withRetry runs fn, retrying once after a 1s pause if it fails, and hands
// back the last attempt's raw error so the caller can apply its own
// storeerrors.Wrap(KindTransientBackend, ...) exactly where it already does.
// storeerrors.Retry wraps the final failure as "failed after N retries: %w";
// unwrap once to recover fn's own error.
func withRetry(ctx context.Context, fn func() error) error {
	err := storeerrors.Retry(ctx, transientRetryConfig, fn)
	if err == nil {
		return nil
	}
	if inner := errors.Unwrap(err); inner != nil {
		return inner
	}
	return err
}

package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/picklr-io/picklr-aws/internal/errdefs"
	"github.com/picklr-io/picklr-aws/internal/logging"
	"github.com/picklr-io/picklr-aws/internal/metrics"
	"github.com/picklr-io/picklr-aws/internal/wait"
)

// The SDK waiters below run with MinDelay and MaxDelay both set to the
// configured interval, so they poll at a fixed rate, and with the
// configured timeout as their maximum wait.

// counted wraps a waiter's Retryable so each status check is logged and
// counted.
func counted[I, O any](operation string, next func(context.Context, *I, *O, error) (bool, error)) func(context.Context, *I, *O, error) (bool, error) {
	return func(ctx context.Context, in *I, out *O, err error) (bool, error) {
		metrics.PollIterations.WithLabelValues(operation).Inc()
		retry, err := next(ctx, in, out, err)
		if retry {
			logging.Debug("waiting", "operation", operation)
		}
		return retry, err
	}
}

// waiterErr maps the expiry of an SDK waiter to a TimeoutError. The SDK
// signals expiry only through the error text or the deadline it sets.
func waiterErr(ctx context.Context, operation string, opts wait.Options, err error) error {
	if err == nil {
		return nil
	}
	if strings.HasPrefix(err.Error(), "exceeded max wait time") ||
		(errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil) {
		return &errdefs.TimeoutError{Operation: operation, Timeout: opts.Timeout}
	}
	return fmt.Errorf("failed waiting for %s: %w", operation, err)
}

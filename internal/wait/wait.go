// Package wait polls remote state until an asynchronous operation settles.
package wait

import (
	"context"
	"fmt"
	"time"

	"github.com/picklr-io/picklr-aws/internal/errdefs"
	"github.com/picklr-io/picklr-aws/internal/logging"
	"github.com/picklr-io/picklr-aws/internal/metrics"
)

// DefaultTimeout bounds every wait unless configured otherwise.
const DefaultTimeout = 30 * time.Minute

// DefaultInterval is the fixed delay between status checks.
const DefaultInterval = 30 * time.Second

// Options configures a bounded poll.
type Options struct {
	Timeout  time.Duration
	Interval time.Duration
}

// DefaultOptions returns the default wait bounds.
func DefaultOptions() Options {
	return Options{Timeout: DefaultTimeout, Interval: DefaultInterval}
}

// WithDefaults fills unset bounds with the defaults.
func (o Options) WithDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	return o
}

// WithTimeout wraps a context with a per-resource timeout.
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// CheckFunc reports whether the awaited condition holds. A non-nil error
// aborts the wait.
type CheckFunc func(ctx context.Context) (bool, error)

// Until calls check immediately and then every Interval until it reports
// done, fails, or Timeout elapses. Expiry yields an *errdefs.TimeoutError.
func Until(ctx context.Context, operation string, opts Options, check CheckFunc) error {
	opts = opts.WithDefaults()
	deadline := time.Now().Add(opts.Timeout)

	for attempt := 1; ; attempt++ {
		metrics.PollIterations.WithLabelValues(operation).Inc()

		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return &errdefs.TimeoutError{Operation: operation, Timeout: opts.Timeout}
		}
		delay := opts.Interval
		if delay > remaining {
			delay = remaining
		}
		logging.Debug("waiting", "operation", operation, "attempt", attempt, "delay", delay)

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for %s cancelled: %w", operation, ctx.Err())
		case <-time.After(delay):
		}
	}
}

// ForStatus waits until status returns want. Any status in failed aborts
// the wait with an error naming it.
func ForStatus(ctx context.Context, operation string, opts Options, want string, failed []string, status func(ctx context.Context) (string, error)) error {
	return Until(ctx, operation, opts, func(ctx context.Context) (bool, error) {
		s, err := status(ctx)
		if err != nil {
			return false, err
		}
		for _, f := range failed {
			if s == f {
				return false, fmt.Errorf("%s ended in status %s", operation, s)
			}
		}
		return s == want, nil
	})
}

// ForDeletion waits until exists reports false or returns a not-found error.
func ForDeletion(ctx context.Context, operation string, opts Options, exists func(ctx context.Context) (bool, error)) error {
	return Until(ctx, operation, opts, func(ctx context.Context) (bool, error) {
		ok, err := exists(ctx)
		if errdefs.IsNotFound(err) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		return !ok, nil
	})
}

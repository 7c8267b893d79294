package retrycond

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/smithy-go"
	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/picklr-io/picklr-aws/internal/logging"
	"github.com/picklr-io/picklr-aws/internal/metrics"
)

// MaxAttempts caps attempts per operation regardless of the predicate.
const MaxAttempts = 100

const retryMiddlewareID = "Retry"

// Retryer is a Finalize middleware that drives API attempts with a compiled
// predicate. It takes the place of the SDK's standard retry middleware.
type Retryer struct {
	predicate Predicate
	backoff   retry.BackoffDelayer
	cloner    func(any) any
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewRetryer returns a Retryer using p and jittered exponential backoff
// capped at maxBackoff.
func NewRetryer(p Predicate, maxBackoff time.Duration) *Retryer {
	if maxBackoff <= 0 {
		maxBackoff = retry.DefaultMaxBackoff
	}
	return &Retryer{
		predicate: p,
		backoff:   retry.NewExponentialJitterBackoff(maxBackoff),
		cloner:    smithyhttp.RequestCloner,
		sleep:     sleepWithContext,
	}
}

// FromNode resolves and compiles a configured node. A nil node yields a nil
// Retryer, leaving the SDK's standard retry behavior in place.
func FromNode(n *Node, maxBackoff time.Duration) (*Retryer, error) {
	if n == nil {
		return nil, nil
	}
	c, err := n.Resolve()
	if err != nil {
		return nil, fmt.Errorf("retry condition: %w", err)
	}
	logging.Debug("compiled retry condition", "condition", c.String())
	return NewRetryer(Compile(c), maxBackoff), nil
}

func (r *Retryer) ID() string { return retryMiddlewareID }

// HandleFinalize makes attempts until one succeeds or the predicate declines.
func (r *Retryer) HandleFinalize(ctx context.Context, in middleware.FinalizeInput, next middleware.FinalizeHandler) (
	out middleware.FinalizeOutput, metadata middleware.Metadata, err error,
) {
	service, operation := metrics.OperationLabels(ctx)
	var releases []func() error

	for retries := 0; ; retries++ {
		attemptIn := in
		if in.Request != nil {
			attemptIn.Request = r.cloner(in.Request)
		}
		if retries > 0 {
			if rewindable, ok := attemptIn.Request.(interface{ RewindStream() error }); ok {
				if rewindErr := rewindable.RewindStream(); rewindErr != nil {
					return out, metadata, fmt.Errorf("failed to rewind transport stream for retry: %w", rewindErr)
				}
			}
		}

		out, metadata, err = next.HandleFinalize(ctx, attemptIn)
		if err == nil {
			for _, release := range releases {
				_ = release()
			}
			if o, ok := r.predicate.(SuccessObserver); ok {
				o.ObserveSuccess(retries)
			}
			return out, metadata, nil
		}

		if ctx.Err() != nil {
			return out, metadata, err
		}

		if retries+1 >= MaxAttempts {
			return out, metadata, &retry.MaxAttemptsError{Attempt: retries + 1, Err: err}
		}

		attempt := &Attempt{Retries: retries, Err: err}
		if !r.predicate.ShouldRetry(ctx, attempt) {
			logging.Debug("not retrying request", "service", service, "operation", operation,
				"retries", retries, "code", errorCode(err))
			return out, metadata, err
		}
		releases = append(releases, attempt.releases...)

		delay, delayErr := r.backoff.BackoffDelay(retries+1, err)
		if delayErr != nil {
			return out, metadata, errors.Join(err, delayErr)
		}

		metrics.Retries.WithLabelValues(service, operation).Inc()
		logging.Debug("retrying request", "service", service, "operation", operation,
			"attempt", retries+2, "delay", delay, "code", errorCode(err))

		if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
			return out, metadata, &aws.RequestCanceledError{Err: sleepErr}
		}
	}
}

// APIOption installs the Retryer on an operation stack. Use it with
// config.WithAPIOptions.
func (r *Retryer) APIOption(stack *middleware.Stack) error {
	if _, ok := stack.Finalize.Get(retryMiddlewareID); ok {
		if _, err := stack.Finalize.Swap(retryMiddlewareID, r); err != nil {
			return err
		}
	} else if err := stack.Finalize.Add(r, middleware.Before); err != nil {
		return err
	}
	// the header reads attempt metadata only the SDK middleware records
	if _, ok := stack.Finalize.Get("RetryMetricsHeader"); ok {
		if _, err := stack.Finalize.Remove("RetryMetricsHeader"); err != nil {
			return err
		}
	}
	return nil
}

func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

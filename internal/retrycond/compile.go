package retrycond

import (
	"context"
	"errors"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
)

// Attempt describes a failed API attempt being considered for retry.
type Attempt struct {
	// Retries is the number of retries already made for this operation.
	Retries int
	Err     error

	releases []func() error
}

// OnSuccess registers fn to run if the operation eventually succeeds.
func (a *Attempt) OnSuccess(fn func() error) {
	a.releases = append(a.releases, fn)
}

// Predicate decides whether a failed attempt is retried.
type Predicate interface {
	ShouldRetry(ctx context.Context, a *Attempt) bool
}

// SuccessObserver is implemented by predicates that keep state across
// operations. ObserveSuccess is called once per successful operation with
// the number of retries it needed.
type SuccessObserver interface {
	ObserveSuccess(retries int)
}

// PredicateFunc adapts a function to Predicate.
type PredicateFunc func(ctx context.Context, a *Attempt) bool

func (f PredicateFunc) ShouldRetry(ctx context.Context, a *Attempt) bool { return f(ctx, a) }

// Clock-skew error codes, as classified by the SDK retryer.
var clockSkewCodes = map[string]struct{}{
	"RequestTimeTooSkewed":      {},
	"RequestExpired":            {},
	"RequestInTheFuture":        {},
	"InvalidSignatureException": {},
	"SignatureDoesNotMatch":     {},
	"AuthFailure":               {},
}

// Compile turns a resolved condition into a predicate. Token buckets are
// created here and shared by every request evaluated by the predicate.
func Compile(c Condition) Predicate {
	switch c := c.(type) {
	case MaxRetries:
		return PredicateFunc(func(_ context.Context, a *Attempt) bool {
			return a.Retries < c.Count
		})
	case ErrorCodes:
		codes := retry.RetryableErrorCode{Codes: make(map[string]struct{}, len(c.Codes))}
		for _, code := range c.Codes {
			codes.Codes[code] = struct{}{}
		}
		return PredicateFunc(func(_ context.Context, a *Attempt) bool {
			return codes.IsErrorRetryable(a.Err) == aws.TrueTernary
		})
	case StatusCodes:
		codes := retry.RetryableHTTPStatusCode{Codes: make(map[int]struct{}, len(c.Codes))}
		for _, code := range c.Codes {
			codes.Codes[code] = struct{}{}
		}
		return PredicateFunc(func(_ context.Context, a *Attempt) bool {
			return codes.IsErrorRetryable(a.Err) == aws.TrueTernary
		})
	case Throttling:
		return PredicateFunc(func(_ context.Context, a *Attempt) bool {
			return IsThrottle(a.Err)
		})
	case ClockSkew:
		codes := retry.RetryableErrorCode{Codes: clockSkewCodes}
		return PredicateFunc(func(_ context.Context, a *Attempt) bool {
			return codes.IsErrorRetryable(a.Err) == aws.TrueTernary
		})
	case TokenBucket:
		return newTokenBucket(c)
	case And:
		return allOf(compileAll(c.Conditions))
	case Or:
		return anyOf(compileAll(c.Conditions))
	default:
		return PredicateFunc(func(context.Context, *Attempt) bool { return false })
	}
}

func compileAll(conditions []Condition) []Predicate {
	out := make([]Predicate, len(conditions))
	for i, c := range conditions {
		out[i] = Compile(c)
	}
	return out
}

type allOf []Predicate

func (ps allOf) ShouldRetry(ctx context.Context, a *Attempt) bool {
	for _, p := range ps {
		if !p.ShouldRetry(ctx, a) {
			return false
		}
	}
	return true
}

func (ps allOf) ObserveSuccess(retries int) { observeAll(ps, retries) }

type anyOf []Predicate

func (ps anyOf) ShouldRetry(ctx context.Context, a *Attempt) bool {
	for _, p := range ps {
		if p.ShouldRetry(ctx, a) {
			return true
		}
	}
	return false
}

func (ps anyOf) ObserveSuccess(retries int) { observeAll(ps, retries) }

func observeAll(ps []Predicate, retries int) {
	for _, p := range ps {
		if o, ok := p.(SuccessObserver); ok {
			o.ObserveSuccess(retries)
		}
	}
}

var throttles = retry.IsErrorThrottles(retry.DefaultThrottles)

// IsThrottle reports whether err is a throttling response.
func IsThrottle(err error) bool {
	if throttles.IsErrorThrottle(err) == aws.TrueTernary {
		return true
	}
	var status interface{ HTTPStatusCode() int }
	return errors.As(err, &status) && status.HTTPStatusCode() == http.StatusTooManyRequests
}

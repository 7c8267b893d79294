package retrycond

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/ratelimit"
	"github.com/aws/aws-sdk-go-v2/aws/retry"

	"github.com/picklr-io/picklr-aws/internal/logging"
)

// CostFunc returns the number of tokens a retry of err consumes.
type CostFunc func(err error) uint

var timeouts = retry.IsErrorTimeouts(retry.DefaultTimeouts)

// DefaultCost charges what the SDK standard retryer charges.
func DefaultCost(err error) uint {
	if timeouts.IsErrorTimeout(err) == aws.TrueTernary {
		return retry.DefaultRetryTimeoutCost
	}
	return retry.DefaultRetryCost
}

// Cost returns the cost function configured by c.
func (c TokenBucket) Cost() CostFunc {
	if c.ExceptionCost == nil && c.ThrottlingExceptionCost == nil {
		return DefaultCost
	}
	return func(err error) uint {
		if IsThrottle(err) {
			if c.ThrottlingExceptionCost != nil {
				return uint(*c.ThrottlingExceptionCost)
			}
			return DefaultCost(err)
		}
		if c.ExceptionCost != nil {
			return uint(*c.ExceptionCost)
		}
		return DefaultCost(err)
	}
}

type tokenBucket struct {
	bucket *ratelimit.TokenRateLimit
	cost   CostFunc
}

func newTokenBucket(c TokenBucket) *tokenBucket {
	return &tokenBucket{
		bucket: ratelimit.NewTokenRateLimit(uint(c.BucketSize)),
		cost:   c.Cost(),
	}
}

// ShouldRetry takes tokens for the retry and refuses once the bucket is
// empty. Tokens go back when the operation succeeds.
func (b *tokenBucket) ShouldRetry(ctx context.Context, a *Attempt) bool {
	cost := b.cost(a.Err)
	release, err := b.bucket.GetToken(ctx, cost)
	if err != nil {
		logging.Debug("retry token bucket exhausted", "cost", cost, "remaining", b.bucket.Remaining())
		return false
	}
	a.OnSuccess(release)
	return true
}

// ObserveSuccess credits the bucket for an operation that needed no
// retry, the way the SDK standard retryer does, so a bucket drained by one
// failing operation fills up again under healthy traffic.
func (b *tokenBucket) ObserveSuccess(retries int) {
	if retries > 0 {
		return
	}
	_ = b.bucket.AddTokens(retry.DefaultNoRetryIncrement)
}

// Remaining reports the tokens left in the bucket.
func (b *tokenBucket) Remaining() uint { return b.bucket.Remaining() }

// Package retrycond builds retry predicates for AWS API clients from a
// composable condition tree.
package retrycond

import (
	"fmt"
	"strings"

	"github.com/picklr-io/picklr-aws/internal/errdefs"
)

// Condition is one node of a resolved retry condition tree. The set of
// implementations is closed.
type Condition interface {
	Validate() error
	String() string
	isCondition()
}

// MaxRetries allows a retry while fewer than Count retries have happened.
type MaxRetries struct{ Count int }

// ErrorCodes allows a retry when the service error code is in Codes.
type ErrorCodes struct{ Codes []string }

// StatusCodes allows a retry when the HTTP status code is in Codes.
type StatusCodes struct{ Codes []int }

// Throttling allows a retry when the service reports throttling.
type Throttling struct{}

// ClockSkew allows a retry when the error points at a skewed client clock.
type ClockSkew struct{}

// TokenBucket allows a retry while the shared bucket can pay for it.
// At most one of the cost overrides may be set.
type TokenBucket struct {
	BucketSize              int
	ExceptionCost           *int
	ThrottlingExceptionCost *int
}

// And allows a retry only when every child does.
type And struct{ Conditions []Condition }

// Or allows a retry when any child does.
type Or struct{ Conditions []Condition }

func (MaxRetries) isCondition()  {}
func (ErrorCodes) isCondition()  {}
func (StatusCodes) isCondition() {}
func (Throttling) isCondition()  {}
func (ClockSkew) isCondition()   {}
func (TokenBucket) isCondition() {}
func (And) isCondition()         {}
func (Or) isCondition()          {}

func (c MaxRetries) Validate() error {
	if c.Count < 0 {
		return errdefs.Configf("max-number-of-retries", "must not be negative, got %d", c.Count)
	}
	return nil
}

func (c ErrorCodes) Validate() error {
	if len(c.Codes) == 0 {
		return errdefs.Configf("error-codes", "at least one error code is required")
	}
	for i, code := range c.Codes {
		if strings.TrimSpace(code) == "" {
			return errdefs.Configf(fmt.Sprintf("error-codes[%d]", i), "must not be empty")
		}
	}
	return nil
}

func (c StatusCodes) Validate() error {
	if len(c.Codes) == 0 {
		return errdefs.Configf("status-codes", "at least one status code is required")
	}
	for i, code := range c.Codes {
		if code < 100 || code > 599 {
			return errdefs.Configf(fmt.Sprintf("status-codes[%d]", i), "%d is not an HTTP status code", code)
		}
	}
	return nil
}

func (Throttling) Validate() error { return nil }

func (ClockSkew) Validate() error { return nil }

func (c TokenBucket) Validate() error {
	if c.BucketSize < 1 {
		return errdefs.Configf("bucket-size", "must be at least 1, got %d", c.BucketSize)
	}
	if c.ExceptionCost != nil && c.ThrottlingExceptionCost != nil {
		return errdefs.Configf("", "only one of [exception-cost, throttling-exception-cost] is allowed")
	}
	if c.ExceptionCost != nil && *c.ExceptionCost < 1 {
		return errdefs.Configf("exception-cost", "must be at least 1, got %d", *c.ExceptionCost)
	}
	if c.ThrottlingExceptionCost != nil && *c.ThrottlingExceptionCost < 1 {
		return errdefs.Configf("throttling-exception-cost", "must be at least 1, got %d", *c.ThrottlingExceptionCost)
	}
	return nil
}

func (c And) Validate() error { return validateChildren(c.Conditions) }

func (c Or) Validate() error { return validateChildren(c.Conditions) }

func validateChildren(children []Condition) error {
	if len(children) == 0 {
		return errdefs.Configf("conditions", "at least one condition is required")
	}
	for i, child := range children {
		if child == nil {
			return errdefs.Configf(fmt.Sprintf("conditions[%d]", i), "must not be empty")
		}
		if err := child.Validate(); err != nil {
			return errdefs.Nest(fmt.Sprintf("conditions[%d]", i), err)
		}
	}
	return nil
}

func (c MaxRetries) String() string { return fmt.Sprintf("max-retries(%d)", c.Count) }

func (c ErrorCodes) String() string {
	return "error-codes(" + strings.Join(c.Codes, ",") + ")"
}

func (c StatusCodes) String() string {
	codes := make([]string, len(c.Codes))
	for i, code := range c.Codes {
		codes[i] = fmt.Sprint(code)
	}
	return "status-codes(" + strings.Join(codes, ",") + ")"
}

func (Throttling) String() string { return "throttling" }

func (ClockSkew) String() string { return "clock-skew" }

func (c TokenBucket) String() string {
	s := fmt.Sprintf("token-bucket(size=%d", c.BucketSize)
	if c.ExceptionCost != nil {
		s += fmt.Sprintf(", exception-cost=%d", *c.ExceptionCost)
	}
	if c.ThrottlingExceptionCost != nil {
		s += fmt.Sprintf(", throttling-exception-cost=%d", *c.ThrottlingExceptionCost)
	}
	return s + ")"
}

func (c And) String() string { return joinChildren("and", c.Conditions) }

func (c Or) String() string { return joinChildren("or", c.Conditions) }

func joinChildren(op string, children []Condition) string {
	parts := make([]string, len(children))
	for i, child := range children {
		parts[i] = child.String()
	}
	return op + "(" + strings.Join(parts, ", ") + ")"
}

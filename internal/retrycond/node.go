package retrycond

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/picklr-io/picklr-aws/internal/errdefs"
)

// Config keys of the variants a Node can hold, in declaration order.
const (
	KeyMaxNumberOfRetries = "max-number-of-retry-condition"
	KeyErrorCodes         = "retry-on-error-codes-condition"
	KeyStatusCodes        = "retry-on-status-code-condition"
	KeyThrottling         = "retry-on-throttling-condition"
	KeyClockSkew          = "retry-on-clock-skew-condition"
	KeyTokenBucket        = "token-bucket-retry-condition"
	KeyAnd                = "and-retry-condition"
	KeyOr                 = "or-retry-condition"
)

var allKeys = []string{
	KeyMaxNumberOfRetries, KeyErrorCodes, KeyStatusCodes, KeyThrottling,
	KeyClockSkew, KeyTokenBucket, KeyAnd, KeyOr,
}

// Node is the configuration form of a retry condition. Exactly one field
// must be set.
type Node struct {
	MaxNumberOfRetries *MaxNumberOfRetriesNode `yaml:"max-number-of-retry-condition,omitempty" json:"max-number-of-retry-condition,omitempty" pkl:"maxNumberOfRetryCondition"`
	ErrorCodes         *ErrorCodesNode         `yaml:"retry-on-error-codes-condition,omitempty" json:"retry-on-error-codes-condition,omitempty" pkl:"retryOnErrorCodesCondition"`
	StatusCodes        *StatusCodesNode        `yaml:"retry-on-status-code-condition,omitempty" json:"retry-on-status-code-condition,omitempty" pkl:"retryOnStatusCodeCondition"`
	Throttling         *EmptyNode              `yaml:"retry-on-throttling-condition,omitempty" json:"retry-on-throttling-condition,omitempty" pkl:"retryOnThrottlingCondition"`
	ClockSkew          *EmptyNode              `yaml:"retry-on-clock-skew-condition,omitempty" json:"retry-on-clock-skew-condition,omitempty" pkl:"retryOnClockSkewCondition"`
	TokenBucket        *TokenBucketNode        `yaml:"token-bucket-retry-condition,omitempty" json:"token-bucket-retry-condition,omitempty" pkl:"tokenBucketRetryCondition"`
	And                *CompositeNode          `yaml:"and-retry-condition,omitempty" json:"and-retry-condition,omitempty" pkl:"andRetryCondition"`
	Or                 *CompositeNode          `yaml:"or-retry-condition,omitempty" json:"or-retry-condition,omitempty" pkl:"orRetryCondition"`
}

type MaxNumberOfRetriesNode struct {
	MaxNumberOfRetries *int `yaml:"max-number-of-retries" json:"max-number-of-retries" pkl:"maxNumberOfRetries"`
}

type ErrorCodesNode struct {
	ErrorCodes []string `yaml:"error-codes" json:"error-codes" pkl:"errorCodes"`
}

type StatusCodesNode struct {
	StatusCodes []int `yaml:"status-codes" json:"status-codes" pkl:"statusCodes"`
}

// EmptyNode carries no settings; its presence selects the variant.
type EmptyNode struct{}

type TokenBucketNode struct {
	BucketSize              *int `yaml:"bucket-size" json:"bucket-size" pkl:"bucketSize"`
	ExceptionCost           *int `yaml:"exception-cost,omitempty" json:"exception-cost,omitempty" pkl:"exceptionCost"`
	ThrottlingExceptionCost *int `yaml:"throttling-exception-cost,omitempty" json:"throttling-exception-cost,omitempty" pkl:"throttlingExceptionCost"`
}

type CompositeNode struct {
	Conditions []*Node `yaml:"conditions" json:"conditions" pkl:"conditions"`
}

// node has Node's fields without its decode methods.
type node Node

// UnmarshalYAML decodes n. A variant without settings may be written with
// an empty value, as in "retry-on-throttling-condition:".
func (n *Node) UnmarshalYAML(value *yaml.Node) error {
	if err := value.Decode((*node)(n)); err != nil {
		return err
	}
	if value.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		if value.Content[i+1].ShortTag() == "!!null" {
			n.selectEmpty(value.Content[i].Value)
		}
	}
	return nil
}

// UnmarshalJSON is the JSON counterpart of UnmarshalYAML.
func (n *Node) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, (*node)(n)); err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil
	}
	for k, v := range fields {
		if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			n.selectEmpty(k)
		}
	}
	return nil
}

func (n *Node) selectEmpty(key string) {
	switch key {
	case KeyThrottling:
		n.Throttling = &EmptyNode{}
	case KeyClockSkew:
		n.ClockSkew = &EmptyNode{}
	}
}

// setKeys returns the config keys of every populated field.
func (n *Node) setKeys() []string {
	present := []bool{
		n.MaxNumberOfRetries != nil, n.ErrorCodes != nil, n.StatusCodes != nil, n.Throttling != nil,
		n.ClockSkew != nil, n.TokenBucket != nil, n.And != nil, n.Or != nil,
	}
	var keys []string
	for i, ok := range present {
		if ok {
			keys = append(keys, allKeys[i])
		}
	}
	return keys
}

// Validate reports whether the node, and every nested node, resolves to
// exactly one valid condition.
func (n *Node) Validate() error {
	_, err := n.Resolve()
	return err
}

// Resolve validates the node and converts it into a Condition.
func (n *Node) Resolve() (Condition, error) {
	if n == nil {
		return nil, &errdefs.ConfigurationError{Message: fmt.Sprintf("one of [%s] is required", strings.Join(allKeys, ", "))}
	}

	keys := n.setKeys()
	switch len(keys) {
	case 0:
		return nil, &errdefs.ConfigurationError{Message: fmt.Sprintf("one of [%s] is required", strings.Join(allKeys, ", "))}
	case 1:
	default:
		return nil, &errdefs.ConfigurationError{Message: fmt.Sprintf("only one of [%s] is allowed", strings.Join(keys, ", "))}
	}

	var c Condition
	switch {
	case n.MaxNumberOfRetries != nil:
		if n.MaxNumberOfRetries.MaxNumberOfRetries == nil {
			return nil, errdefs.Configf(KeyMaxNumberOfRetries+".max-number-of-retries", "is required")
		}
		c = MaxRetries{Count: *n.MaxNumberOfRetries.MaxNumberOfRetries}
	case n.ErrorCodes != nil:
		c = ErrorCodes{Codes: n.ErrorCodes.ErrorCodes}
	case n.StatusCodes != nil:
		c = StatusCodes{Codes: n.StatusCodes.StatusCodes}
	case n.Throttling != nil:
		c = Throttling{}
	case n.ClockSkew != nil:
		c = ClockSkew{}
	case n.TokenBucket != nil:
		if n.TokenBucket.BucketSize == nil {
			return nil, errdefs.Configf(KeyTokenBucket+".bucket-size", "is required")
		}
		c = TokenBucket{
			BucketSize:              *n.TokenBucket.BucketSize,
			ExceptionCost:           n.TokenBucket.ExceptionCost,
			ThrottlingExceptionCost: n.TokenBucket.ThrottlingExceptionCost,
		}
	case n.And != nil:
		children, err := resolveChildren(n.And.Conditions)
		if err != nil {
			return nil, errdefs.Nest(KeyAnd, err)
		}
		c = And{Conditions: children}
	case n.Or != nil:
		children, err := resolveChildren(n.Or.Conditions)
		if err != nil {
			return nil, errdefs.Nest(KeyOr, err)
		}
		c = Or{Conditions: children}
	}

	if err := c.Validate(); err != nil {
		return nil, errdefs.Nest(keys[0], err)
	}
	return c, nil
}

func resolveChildren(nodes []*Node) ([]Condition, error) {
	if len(nodes) == 0 {
		return nil, errdefs.Configf("conditions", "at least one condition is required")
	}
	out := make([]Condition, 0, len(nodes))
	for i, child := range nodes {
		c, err := child.Resolve()
		if err != nil {
			return nil, errdefs.Nest(fmt.Sprintf("conditions[%d]", i), err)
		}
		out = append(out, c)
	}
	return out, nil
}

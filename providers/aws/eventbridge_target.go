package aws

import (
	"context"
	"fmt"
	"strings"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/picklr-io/picklr-aws/internal/errdefs"
	"github.com/picklr-io/picklr-aws/internal/resource"
)

// EventBridge Target

type RetryPolicy struct {
	MaximumRetryAttempts     *int32 `json:"maximum_retry_attempts,omitempty" picklr:"min=0,max=185"`
	MaximumEventAgeInSeconds *int32 `json:"maximum_event_age_in_seconds,omitempty" picklr:"min=60,max=86400"`
}

// Target routes the events matched by a rule to another resource.
type Target struct {
	RuleRef       string       `json:"rule,omitempty"`
	TargetID      string       `json:"id" picklr:"required,min=1,max=64"`
	ARN           string       `json:"arn" picklr:"required,updatable"`
	RoleARN       string       `json:"role_arn,omitempty" picklr:"updatable"`
	Input         string       `json:"input,omitempty" picklr:"updatable,file"`
	InputPath     string       `json:"input_path,omitempty" picklr:"updatable"`
	RetryPolicy   *RetryPolicy `json:"retry_policy,omitempty" picklr:"updatable"`
	DeadLetterARN string       `json:"dead_letter_arn,omitempty" picklr:"updatable"`

	RuleName     string `json:"rule_name,omitempty" picklr:"output"`
	EventBusName string `json:"event_bus_name,omitempty" picklr:"output"`

	p *Provider
}

func (p *Provider) buildTarget(props map[string]any, refs resource.Resolver) (resource.Managed, error) {
	t := &Target{p: p}
	if err := resource.Decode(props, t); err != nil {
		return nil, err
	}
	if t.RetryPolicy != nil {
		if err := resource.ValidateFields(t.RetryPolicy); err != nil {
			return nil, errdefs.Nest("retry_policy", err)
		}
	}
	if t.Input != "" && t.InputPath != "" {
		return nil, errdefs.Configf("input", "input and input_path are mutually exclusive")
	}

	rule, err := resource.Parent[*Rule](refs, "rule", t.RuleRef)
	switch {
	case err == nil:
		t.RuleName, t.EventBusName = rule.Name, rule.bus()
	case t.RuleName == "":
		return nil, err
	}
	return t, nil
}

func (t *Target) bus() string {
	if t.EventBusName == "" {
		return DefaultEventBus
	}
	return t.EventBusName
}

func (t *Target) Type() string { return TypeEventBridgeTarget }

func (t *Target) ID() string {
	rule := t.RuleName
	if t.bus() != DefaultEventBus {
		rule = t.bus() + "|" + rule
	}
	return rule + "/" + t.TargetID
}

func (t *Target) Read(ctx context.Context) (bool, error) {
	input := &eventbridge.ListTargetsByRuleInput{
		Rule:         awssdk.String(t.RuleName),
		EventBusName: awssdk.String(t.bus()),
	}
	for {
		out, err := t.p.Events.ListTargetsByRule(ctx, input)
		if err != nil {
			return false, err
		}
		for _, remote := range out.Targets {
			if awssdk.ToString(remote.Id) == t.TargetID {
				t.load(remote)
				return true, nil
			}
		}
		if out.NextToken == nil {
			return false, nil
		}
		input.NextToken = out.NextToken
	}
}

func (t *Target) load(remote types.Target) {
	t.ARN = awssdk.ToString(remote.Arn)
	t.RoleARN = awssdk.ToString(remote.RoleArn)
	t.Input = compactJSON(awssdk.ToString(remote.Input))
	t.InputPath = awssdk.ToString(remote.InputPath)
	t.RetryPolicy = nil
	if rp := remote.RetryPolicy; rp != nil {
		t.RetryPolicy = &RetryPolicy{
			MaximumRetryAttempts:     rp.MaximumRetryAttempts,
			MaximumEventAgeInSeconds: rp.MaximumEventAgeInSeconds,
		}
	}
	t.DeadLetterARN = ""
	if remote.DeadLetterConfig != nil {
		t.DeadLetterARN = awssdk.ToString(remote.DeadLetterConfig.Arn)
	}
}

func (t *Target) target() types.Target {
	out := types.Target{
		Id:        awssdk.String(t.TargetID),
		Arn:       awssdk.String(t.ARN),
		RoleArn:   optString(t.RoleARN),
		Input:     optString(t.Input),
		InputPath: optString(t.InputPath),
	}
	if t.RetryPolicy != nil {
		out.RetryPolicy = &types.RetryPolicy{
			MaximumRetryAttempts:     t.RetryPolicy.MaximumRetryAttempts,
			MaximumEventAgeInSeconds: t.RetryPolicy.MaximumEventAgeInSeconds,
		}
	}
	if t.DeadLetterARN != "" {
		out.DeadLetterConfig = &types.DeadLetterConfig{Arn: awssdk.String(t.DeadLetterARN)}
	}
	return out
}

func (t *Target) put(ctx context.Context) error {
	out, err := t.p.Events.PutTargets(ctx, &eventbridge.PutTargetsInput{
		Rule:         awssdk.String(t.RuleName),
		EventBusName: awssdk.String(t.bus()),
		Targets:      []types.Target{t.target()},
	})
	if err != nil {
		return err
	}
	if out.FailedEntryCount > 0 {
		var msgs []string
		for _, e := range out.FailedEntries {
			msgs = append(msgs, fmt.Sprintf("%s: %s", awssdk.ToString(e.ErrorCode), awssdk.ToString(e.ErrorMessage)))
		}
		return fmt.Errorf("target %s rejected: %s", t.TargetID, strings.Join(msgs, "; "))
	}
	return nil
}

func (t *Target) Create(ctx context.Context, ui resource.UI, _ resource.Checkpointer) error {
	ui.Printf("Adding target %s\n", t.ID())
	if err := t.put(ctx); err != nil {
		return fmt.Errorf("failed to put EventBridge target: %w", err)
	}
	return nil
}

func (t *Target) Update(ctx context.Context, ui resource.UI, _ resource.Managed, _ resource.FieldSet) error {
	ui.Printf("Updating target %s\n", t.ID())
	if err := t.put(ctx); err != nil {
		return fmt.Errorf("failed to put EventBridge target: %w", err)
	}
	return nil
}

func (t *Target) Delete(ctx context.Context, ui resource.UI) error {
	ui.Printf("Removing target %s\n", t.ID())
	out, err := t.p.Events.RemoveTargets(ctx, &eventbridge.RemoveTargetsInput{
		Rule:         awssdk.String(t.RuleName),
		EventBusName: awssdk.String(t.bus()),
		Ids:          []string{t.TargetID},
	})
	if err != nil {
		return err
	}
	if out.FailedEntryCount > 0 && len(out.FailedEntries) > 0 {
		e := out.FailedEntries[0]
		return fmt.Errorf("failed to remove target %s: %s: %s", t.TargetID, awssdk.ToString(e.ErrorCode), awssdk.ToString(e.ErrorMessage))
	}
	return nil
}

// TargetFinder lists the targets of every rule on a bus, or of the rule
// named by the "rule" filter.
type TargetFinder struct{ p *Provider }

func (f TargetFinder) FindAll(ctx context.Context) ([]*Target, error) {
	return f.Find(ctx, nil)
}

func (f TargetFinder) Find(ctx context.Context, filters map[string]string) ([]*Target, error) {
	bus := filters["event-bus"]
	var rules []string
	if name, ok := filters["rule"]; ok {
		rules = []string{name}
	} else {
		found, err := f.p.listRules(ctx, bus, "")
		if err != nil {
			return nil, err
		}
		for _, r := range found {
			rules = append(rules, r.Name)
		}
	}

	var out []*Target
	for _, rule := range rules {
		input := &eventbridge.ListTargetsByRuleInput{Rule: awssdk.String(rule), EventBusName: optString(bus)}
		for {
			page, err := f.p.Events.ListTargetsByRule(ctx, input)
			if err != nil {
				return nil, fmt.Errorf("failed to list targets of rule %s: %w", rule, err)
			}
			for _, remote := range page.Targets {
				t := &Target{TargetID: awssdk.ToString(remote.Id), RuleName: rule, EventBusName: bus, p: f.p}
				t.load(remote)
				out = append(out, t)
			}
			if page.NextToken == nil {
				break
			}
			input.NextToken = page.NextToken
		}
	}
	return out, nil
}

package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/picklr-io/picklr-aws/internal/errdefs"
	"github.com/picklr-io/picklr-aws/internal/resource"
	"github.com/picklr-io/picklr-aws/internal/tags"
)

// EventBridge Rule

type Rule struct {
	Name               string   `json:"name" picklr:"required,min=1,max=64"`
	EventBusName       string   `json:"event_bus_name,omitempty" picklr:"computed"`
	Description        string   `json:"description,omitempty" picklr:"updatable,max=512"`
	EventPattern       string   `json:"event_pattern,omitempty" picklr:"updatable,file"`
	ScheduleExpression string   `json:"schedule_expression,omitempty" picklr:"updatable"`
	RoleARN            string   `json:"role_arn,omitempty" picklr:"updatable"`
	State              string   `json:"state,omitempty" picklr:"updatable,computed,oneof=ENABLED|DISABLED"`
	ResourceTags       tags.Set `json:"tags,omitempty" picklr:"updatable"`

	ARN string `json:"arn,omitempty" picklr:"output"`

	p *Provider
}

func (p *Provider) buildRule(props map[string]any, _ resource.Resolver) (resource.Managed, error) {
	r := &Rule{p: p}
	if err := resource.Decode(props, r); err != nil {
		return nil, err
	}
	if r.EventPattern == "" && r.ScheduleExpression == "" {
		return nil, errdefs.Configf("event_pattern", "event_pattern or schedule_expression is required")
	}
	r.EventPattern = compactJSON(r.EventPattern)
	return r, nil
}

// compactJSON strips insignificant whitespace so patterns compare equal to
// what the service returns. Values that are not JSON are returned as is.
func compactJSON(s string) string {
	if s == "" {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return s
	}
	return buf.String()
}

func (r *Rule) bus() string {
	if r.EventBusName == "" {
		return DefaultEventBus
	}
	return r.EventBusName
}

func (r *Rule) Type() string { return TypeEventBridgeRule }

func (r *Rule) ID() string {
	if r.bus() == DefaultEventBus {
		return r.Name
	}
	return r.bus() + "|" + r.Name
}

func (r *Rule) Tags() tags.Set      { return r.ResourceTags }
func (r *Rule) SetTags(t tags.Set)  { r.ResourceTags = t }
func (r *Rule) TagID() string       { return r.ARN }
func (r *Rule) Tagger() tags.Tagger { return eventsTagger{r.p.Events} }

func (r *Rule) ListTags(ctx context.Context) (tags.Set, error) {
	return listEventsTags(ctx, r.p.Events, r.ARN)
}

func (r *Rule) Read(ctx context.Context) (bool, error) {
	out, err := r.p.Events.DescribeRule(ctx, &eventbridge.DescribeRuleInput{
		Name:         awssdk.String(r.Name),
		EventBusName: awssdk.String(r.bus()),
	})
	if err != nil {
		return false, err
	}
	r.EventBusName = awssdk.ToString(out.EventBusName)
	r.Description = awssdk.ToString(out.Description)
	r.EventPattern = compactJSON(awssdk.ToString(out.EventPattern))
	r.ScheduleExpression = awssdk.ToString(out.ScheduleExpression)
	r.RoleARN = awssdk.ToString(out.RoleArn)
	r.State = string(out.State)
	r.ARN = awssdk.ToString(out.Arn)
	return true, nil
}

func (r *Rule) put(ctx context.Context) error {
	out, err := r.p.Events.PutRule(ctx, &eventbridge.PutRuleInput{
		Name:               awssdk.String(r.Name),
		EventBusName:       awssdk.String(r.bus()),
		Description:        optString(r.Description),
		EventPattern:       optString(r.EventPattern),
		ScheduleExpression: optString(r.ScheduleExpression),
		RoleArn:            optString(r.RoleARN),
		State:              types.RuleState(r.State),
	})
	if err != nil {
		return err
	}
	r.ARN = awssdk.ToString(out.RuleArn)
	return nil
}

func (r *Rule) Create(ctx context.Context, ui resource.UI, _ resource.Checkpointer) error {
	ui.Printf("Creating EventBridge rule %s\n", r.ID())
	if err := r.put(ctx); err != nil {
		return fmt.Errorf("failed to create EventBridge rule: %w", err)
	}
	if r.EventBusName == "" {
		r.EventBusName = DefaultEventBus
	}
	return nil
}

// Update rewrites the rule when a definition field changed. PutRule also
// carries the state, so a separate enable or disable is only needed when
// the state alone changed.
func (r *Rule) Update(ctx context.Context, ui resource.UI, _ resource.Managed, changed resource.FieldSet) error {
	if changed.HasAny("description", "event_pattern", "schedule_expression", "role_arn") {
		ui.Printf("Updating EventBridge rule %s\n", r.ID())
		if err := r.put(ctx); err != nil {
			return fmt.Errorf("failed to update EventBridge rule: %w", err)
		}
		return nil
	}
	if !changed.Has("state") {
		return nil
	}

	name, bus := awssdk.String(r.Name), awssdk.String(r.bus())
	var err error
	if r.State == string(types.RuleStateDisabled) {
		ui.Printf("Disabling EventBridge rule %s\n", r.ID())
		_, err = r.p.Events.DisableRule(ctx, &eventbridge.DisableRuleInput{Name: name, EventBusName: bus})
	} else {
		ui.Printf("Enabling EventBridge rule %s\n", r.ID())
		_, err = r.p.Events.EnableRule(ctx, &eventbridge.EnableRuleInput{Name: name, EventBusName: bus})
	}
	if err != nil {
		return fmt.Errorf("failed to change state of EventBridge rule: %w", err)
	}
	return nil
}

func (r *Rule) Delete(ctx context.Context, ui resource.UI) error {
	ui.Printf("Deleting EventBridge rule %s\n", r.ID())
	_, err := r.p.Events.DeleteRule(ctx, &eventbridge.DeleteRuleInput{
		Name:         awssdk.String(r.Name),
		EventBusName: awssdk.String(r.bus()),
	})
	return err
}

// RuleFinder lists rules on the default bus, or on the bus named by the
// "event-bus" filter. "name-prefix" narrows the listing.
type RuleFinder struct{ p *Provider }

func (f RuleFinder) FindAll(ctx context.Context) ([]*Rule, error) {
	return f.Find(ctx, nil)
}

func (f RuleFinder) Find(ctx context.Context, filters map[string]string) ([]*Rule, error) {
	rules, err := f.p.listRules(ctx, filters["event-bus"], filters["name-prefix"])
	if err != nil {
		return nil, err
	}
	return loadAll(ctx, rules)
}

func (p *Provider) listRules(ctx context.Context, bus, prefix string) ([]*Rule, error) {
	input := &eventbridge.ListRulesInput{
		EventBusName: optString(bus),
		NamePrefix:   optString(prefix),
	}
	var rules []*Rule
	for {
		out, err := p.Events.ListRules(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to list EventBridge rules: %w", err)
		}
		for _, r := range out.Rules {
			rules = append(rules, &Rule{
				Name:         awssdk.ToString(r.Name),
				EventBusName: awssdk.ToString(r.EventBusName),
				p:            p,
			})
		}
		if out.NextToken == nil {
			return rules, nil
		}
		input.NextToken = out.NextToken
	}
}

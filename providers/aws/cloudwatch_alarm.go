package aws

import (
	"context"
	"fmt"
	"maps"
	"slices"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/picklr-io/picklr-aws/internal/resource"
	"github.com/picklr-io/picklr-aws/internal/tags"
)

// CloudWatch Metric Alarm

type Alarm struct {
	Name                    string            `json:"name" picklr:"required,min=1,max=255"`
	Description             string            `json:"description,omitempty" picklr:"updatable,max=1024"`
	Namespace               string            `json:"namespace" picklr:"required,updatable"`
	MetricName              string            `json:"metric_name" picklr:"required,updatable"`
	Statistic               string            `json:"statistic" picklr:"required,updatable,oneof=SampleCount|Average|Sum|Minimum|Maximum"`
	Dimensions              map[string]string `json:"dimensions,omitempty" picklr:"updatable,max=30"`
	Period                  *int32            `json:"period" picklr:"required,updatable,min=10"`
	EvaluationPeriods       *int32            `json:"evaluation_periods" picklr:"required,updatable,min=1"`
	DatapointsToAlarm       *int32            `json:"datapoints_to_alarm,omitempty" picklr:"updatable,min=1"`
	Threshold               *float64          `json:"threshold" picklr:"required,updatable"`
	ComparisonOperator      string            `json:"comparison_operator" picklr:"required,updatable,oneof=GreaterThanOrEqualToThreshold|GreaterThanThreshold|LessThanThreshold|LessThanOrEqualToThreshold"`
	TreatMissingData        string            `json:"treat_missing_data,omitempty" picklr:"updatable,computed,oneof=breaching|notBreaching|ignore|missing"`
	Unit                    string            `json:"unit,omitempty" picklr:"updatable"`
	ActionsEnabled          *bool             `json:"actions_enabled,omitempty" picklr:"updatable,computed"`
	AlarmActions            []string          `json:"alarm_actions,omitempty" picklr:"updatable,max=5"`
	OKActions               []string          `json:"ok_actions,omitempty" picklr:"updatable,max=5"`
	InsufficientDataActions []string          `json:"insufficient_data_actions,omitempty" picklr:"updatable,max=5"`
	ResourceTags            tags.Set          `json:"tags,omitempty" picklr:"updatable"`

	ARN        string `json:"arn,omitempty" picklr:"output"`
	StateValue string `json:"state_value,omitempty" picklr:"output"`

	p *Provider
}

func (p *Provider) buildAlarm(props map[string]any, _ resource.Resolver) (resource.Managed, error) {
	a := &Alarm{p: p}
	if err := resource.Decode(props, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Alarm) Type() string { return TypeAlarm }
func (a *Alarm) ID() string   { return a.Name }

func (a *Alarm) Tags() tags.Set      { return a.ResourceTags }
func (a *Alarm) SetTags(t tags.Set)  { a.ResourceTags = t }
func (a *Alarm) TagID() string       { return a.ARN }
func (a *Alarm) Tagger() tags.Tagger { return cloudwatchTagger{a.p.CloudWatch} }

func (a *Alarm) ListTags(ctx context.Context) (tags.Set, error) {
	out, err := a.p.CloudWatch.ListTagsForResource(ctx, &cloudwatch.ListTagsForResourceInput{
		ResourceARN: awssdk.String(a.ARN),
	})
	if err != nil {
		return nil, err
	}
	s := tags.Set{}
	for _, t := range out.Tags {
		s[awssdk.ToString(t.Key)] = awssdk.ToString(t.Value)
	}
	return s, nil
}

func (a *Alarm) describe(ctx context.Context) (*types.MetricAlarm, error) {
	out, err := a.p.CloudWatch.DescribeAlarms(ctx, &cloudwatch.DescribeAlarmsInput{
		AlarmNames: []string{a.Name},
		AlarmTypes: []types.AlarmType{types.AlarmTypeMetricAlarm},
	})
	if err != nil {
		return nil, err
	}
	if len(out.MetricAlarms) == 0 {
		return nil, nil
	}
	return &out.MetricAlarms[0], nil
}

func (a *Alarm) Read(ctx context.Context) (bool, error) {
	m, err := a.describe(ctx)
	if err != nil || m == nil {
		return false, err
	}
	a.load(m)
	return true, nil
}

func (a *Alarm) load(m *types.MetricAlarm) {
	a.Description = awssdk.ToString(m.AlarmDescription)
	a.Namespace = awssdk.ToString(m.Namespace)
	a.MetricName = awssdk.ToString(m.MetricName)
	a.Statistic = string(m.Statistic)
	a.Dimensions = nil
	for _, d := range m.Dimensions {
		if a.Dimensions == nil {
			a.Dimensions = map[string]string{}
		}
		a.Dimensions[awssdk.ToString(d.Name)] = awssdk.ToString(d.Value)
	}
	a.Period = m.Period
	a.EvaluationPeriods = m.EvaluationPeriods
	a.DatapointsToAlarm = m.DatapointsToAlarm
	a.Threshold = m.Threshold
	a.ComparisonOperator = string(m.ComparisonOperator)
	a.TreatMissingData = awssdk.ToString(m.TreatMissingData)
	a.Unit = string(m.Unit)
	a.ActionsEnabled = m.ActionsEnabled
	a.AlarmActions = m.AlarmActions
	a.OKActions = m.OKActions
	a.InsufficientDataActions = m.InsufficientDataActions
	a.ARN = awssdk.ToString(m.AlarmArn)
	a.StateValue = string(m.StateValue)
}

func (a *Alarm) dimensions() []types.Dimension {
	var out []types.Dimension
	for _, k := range slices.Sorted(maps.Keys(a.Dimensions)) {
		out = append(out, types.Dimension{Name: awssdk.String(k), Value: awssdk.String(a.Dimensions[k])})
	}
	return out
}

func (a *Alarm) put(ctx context.Context) error {
	_, err := a.p.CloudWatch.PutMetricAlarm(ctx, &cloudwatch.PutMetricAlarmInput{
		AlarmName:               awssdk.String(a.Name),
		AlarmDescription:        optString(a.Description),
		Namespace:               awssdk.String(a.Namespace),
		MetricName:              awssdk.String(a.MetricName),
		Statistic:               types.Statistic(a.Statistic),
		Dimensions:              a.dimensions(),
		Period:                  a.Period,
		EvaluationPeriods:       a.EvaluationPeriods,
		DatapointsToAlarm:       a.DatapointsToAlarm,
		Threshold:               a.Threshold,
		ComparisonOperator:      types.ComparisonOperator(a.ComparisonOperator),
		TreatMissingData:        optString(a.TreatMissingData),
		Unit:                    types.StandardUnit(a.Unit),
		ActionsEnabled:          a.ActionsEnabled,
		AlarmActions:            a.AlarmActions,
		OKActions:               a.OKActions,
		InsufficientDataActions: a.InsufficientDataActions,
	})
	return err
}

func (a *Alarm) Create(ctx context.Context, ui resource.UI, _ resource.Checkpointer) error {
	ui.Printf("Creating alarm %s\n", a.Name)
	if err := a.put(ctx); err != nil {
		return fmt.Errorf("failed to create alarm: %w", err)
	}
	m, err := a.describe(ctx)
	if err != nil {
		return err
	}
	if m != nil {
		a.ARN = awssdk.ToString(m.AlarmArn)
		a.StateValue = string(m.StateValue)
	}
	return nil
}

// Update rewrites the alarm, or only toggles its actions when that is the
// sole change.
func (a *Alarm) Update(ctx context.Context, ui resource.UI, _ resource.Managed, changed resource.FieldSet) error {
	if len(changed.Without("actions_enabled")) > 0 {
		ui.Printf("Updating alarm %s\n", a.Name)
		if err := a.put(ctx); err != nil {
			return fmt.Errorf("failed to update alarm: %w", err)
		}
		return nil
	}

	var err error
	if awssdk.ToBool(a.ActionsEnabled) {
		ui.Printf("Enabling actions of alarm %s\n", a.Name)
		_, err = a.p.CloudWatch.EnableAlarmActions(ctx, &cloudwatch.EnableAlarmActionsInput{AlarmNames: []string{a.Name}})
	} else {
		ui.Printf("Disabling actions of alarm %s\n", a.Name)
		_, err = a.p.CloudWatch.DisableAlarmActions(ctx, &cloudwatch.DisableAlarmActionsInput{AlarmNames: []string{a.Name}})
	}
	if err != nil {
		return fmt.Errorf("failed to change actions of alarm %s: %w", a.Name, err)
	}
	return nil
}

func (a *Alarm) Delete(ctx context.Context, ui resource.UI) error {
	ui.Printf("Deleting alarm %s\n", a.Name)
	_, err := a.p.CloudWatch.DeleteAlarms(ctx, &cloudwatch.DeleteAlarmsInput{AlarmNames: []string{a.Name}})
	return err
}

// AlarmFinder lists metric alarms. It accepts the "name-prefix" and
// "state" (OK, ALARM, INSUFFICIENT_DATA) filters.
type AlarmFinder struct{ p *Provider }

func (f AlarmFinder) FindAll(ctx context.Context) ([]*Alarm, error) {
	return f.Find(ctx, nil)
}

func (f AlarmFinder) Find(ctx context.Context, filters map[string]string) ([]*Alarm, error) {
	pager := cloudwatch.NewDescribeAlarmsPaginator(f.p.CloudWatch, &cloudwatch.DescribeAlarmsInput{
		AlarmNamePrefix: optString(filters["name-prefix"]),
		StateValue:      types.StateValue(filters["state"]),
		AlarmTypes:      []types.AlarmType{types.AlarmTypeMetricAlarm},
	})
	var out []*Alarm
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list alarms: %w", err)
		}
		for i := range page.MetricAlarms {
			a := &Alarm{Name: awssdk.ToString(page.MetricAlarms[i].AlarmName), p: f.p}
			a.load(&page.MetricAlarms[i])
			out = append(out, a)
		}
	}
	for _, a := range out {
		t, err := a.ListTags(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list tags of alarm %s: %w", a.Name, err)
		}
		a.ResourceTags = t
	}
	return out, nil
}

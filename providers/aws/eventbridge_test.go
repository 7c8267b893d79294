package aws

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/picklr-aws/internal/errdefs"
	"github.com/picklr-io/picklr-aws/internal/resource"
	"github.com/picklr-io/picklr-aws/internal/tags"
)

type fakeEvents struct {
	EventBridgeAPI

	calls   []string
	rules   map[string]*eventbridge.PutRuleInput
	targets map[string][]types.Target
	tags    map[string]tags.Set
	reject  bool
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{
		rules:   map[string]*eventbridge.PutRuleInput{},
		targets: map[string][]types.Target{},
		tags:    map[string]tags.Set{},
	}
}

func ruleARN(name string) string {
	return "arn:aws:events:us-east-1:123456789012:rule/" + name
}

func (f *fakeEvents) PutRule(_ context.Context, in *eventbridge.PutRuleInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutRuleOutput, error) {
	f.calls = append(f.calls, "PutRule")
	f.rules[awssdk.ToString(in.Name)] = in
	return &eventbridge.PutRuleOutput{RuleArn: awssdk.String(ruleARN(awssdk.ToString(in.Name)))}, nil
}

func (f *fakeEvents) DescribeRule(_ context.Context, in *eventbridge.DescribeRuleInput, _ ...func(*eventbridge.Options)) (*eventbridge.DescribeRuleOutput, error) {
	r, ok := f.rules[awssdk.ToString(in.Name)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: awssdk.String("Rule does not exist.")}
	}
	state := r.State
	if state == "" {
		state = types.RuleStateEnabled
	}
	return &eventbridge.DescribeRuleOutput{
		Name:               r.Name,
		Arn:                awssdk.String(ruleARN(awssdk.ToString(r.Name))),
		EventBusName:       r.EventBusName,
		Description:        r.Description,
		EventPattern:       r.EventPattern,
		ScheduleExpression: r.ScheduleExpression,
		State:              state,
	}, nil
}

func (f *fakeEvents) EnableRule(_ context.Context, in *eventbridge.EnableRuleInput, _ ...func(*eventbridge.Options)) (*eventbridge.EnableRuleOutput, error) {
	f.calls = append(f.calls, "EnableRule")
	f.rules[awssdk.ToString(in.Name)].State = types.RuleStateEnabled
	return &eventbridge.EnableRuleOutput{}, nil
}

func (f *fakeEvents) DisableRule(_ context.Context, in *eventbridge.DisableRuleInput, _ ...func(*eventbridge.Options)) (*eventbridge.DisableRuleOutput, error) {
	f.calls = append(f.calls, "DisableRule")
	f.rules[awssdk.ToString(in.Name)].State = types.RuleStateDisabled
	return &eventbridge.DisableRuleOutput{}, nil
}

func (f *fakeEvents) ListRules(_ context.Context, in *eventbridge.ListRulesInput, _ ...func(*eventbridge.Options)) (*eventbridge.ListRulesOutput, error) {
	out := &eventbridge.ListRulesOutput{}
	for _, name := range []string{"a", "b"} {
		if _, ok := f.rules[name]; ok {
			out.Rules = append(out.Rules, types.Rule{Name: awssdk.String(name), EventBusName: awssdk.String(DefaultEventBus)})
		}
	}
	return out, nil
}

func (f *fakeEvents) PutTargets(_ context.Context, in *eventbridge.PutTargetsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutTargetsOutput, error) {
	f.calls = append(f.calls, "PutTargets")
	if f.reject {
		return &eventbridge.PutTargetsOutput{
			FailedEntryCount: 1,
			FailedEntries: []types.PutTargetsResultEntry{{
				TargetId:     in.Targets[0].Id,
				ErrorCode:    awssdk.String("ValidationException"),
				ErrorMessage: awssdk.String("bad arn"),
			}},
		}, nil
	}
	rule := awssdk.ToString(in.Rule)
	f.targets[rule] = append(f.targets[rule], in.Targets...)
	return &eventbridge.PutTargetsOutput{}, nil
}

func (f *fakeEvents) ListTargetsByRule(_ context.Context, in *eventbridge.ListTargetsByRuleInput, _ ...func(*eventbridge.Options)) (*eventbridge.ListTargetsByRuleOutput, error) {
	return &eventbridge.ListTargetsByRuleOutput{Targets: f.targets[awssdk.ToString(in.Rule)]}, nil
}

func (f *fakeEvents) TagResource(_ context.Context, in *eventbridge.TagResourceInput, _ ...func(*eventbridge.Options)) (*eventbridge.TagResourceOutput, error) {
	f.calls = append(f.calls, "TagResource")
	arn := awssdk.ToString(in.ResourceARN)
	if f.tags[arn] == nil {
		f.tags[arn] = tags.Set{}
	}
	for _, t := range in.Tags {
		f.tags[arn][awssdk.ToString(t.Key)] = awssdk.ToString(t.Value)
	}
	return &eventbridge.TagResourceOutput{}, nil
}

func (f *fakeEvents) UntagResource(_ context.Context, in *eventbridge.UntagResourceInput, _ ...func(*eventbridge.Options)) (*eventbridge.UntagResourceOutput, error) {
	f.calls = append(f.calls, "UntagResource")
	for _, k := range in.TagKeys {
		delete(f.tags[awssdk.ToString(in.ResourceARN)], k)
	}
	return &eventbridge.UntagResourceOutput{}, nil
}

func (f *fakeEvents) ListTagsForResource(_ context.Context, in *eventbridge.ListTagsForResourceInput, _ ...func(*eventbridge.Options)) (*eventbridge.ListTagsForResourceOutput, error) {
	out := &eventbridge.ListTagsForResourceOutput{}
	for _, k := range f.tags[awssdk.ToString(in.ResourceARN)].Keys() {
		out.Tags = append(out.Tags, types.Tag{Key: awssdk.String(k), Value: awssdk.String(f.tags[awssdk.ToString(in.ResourceARN)][k])})
	}
	return out, nil
}

func TestRule_RequiresPatternOrSchedule(t *testing.T) {
	_, err := testProvider().buildRule(map[string]any{"name": "nightly"}, nil)
	require.Error(t, err)
	assert.True(t, errdefs.IsConfiguration(err))
	assert.ErrorContains(t, err, "event_pattern or schedule_expression is required")
}

func TestRule_PatternFromFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pattern.json"), []byte("{\n  \"source\": [\"aws.ec2\"]\n}\n"), 0o644))

	m, err := testProvider().buildRule(map[string]any{"name": "ec2", "event_pattern": "pattern.json"}, nil)
	require.NoError(t, err)
	require.NoError(t, resource.ResolveFiles(m, dir))
	assert.Equal(t, `{"source":["aws.ec2"]}`, m.(*Rule).EventPattern)
}

func TestRule_Lifecycle(t *testing.T) {
	p := testProvider()
	api := newFakeEvents()
	p.Events = api

	props := map[string]any{
		"name":                "nightly",
		"schedule_expression": "cron(0 3 * * ? *)",
		"tags":                map[string]string{"Team": "ops"},
	}
	m, err := p.buildRule(props, nil)
	require.NoError(t, err)
	r := m.(*Rule)
	require.NoError(t, resource.Create(context.Background(), r, discard, &saves{}))
	assert.Equal(t, ruleARN("nightly"), r.ARN)
	assert.Equal(t, "nightly", r.ID())
	assert.Equal(t, tags.Set{"Team": "ops"}, api.tags[r.ARN])

	// Only the state changes: no PutRule.
	api.calls = nil
	m, err = p.buildRule(props, nil)
	require.NoError(t, err)
	next := m.(*Rule)
	next.State = "DISABLED"
	next.ARN = r.ARN
	changed, err := resource.Changed(r, next)
	require.NoError(t, err)
	assert.Equal(t, []string{"state"}, changed.Names())
	require.NoError(t, resource.Update(context.Background(), next, discard, &saves{}, r, changed))
	assert.Equal(t, []string{"DisableRule"}, api.calls)

	// A definition change rewrites the rule including its state.
	api.calls = nil
	next.Description = "runs nightly"
	require.NoError(t, next.Update(context.Background(), discard, r, resource.NewFieldSet("description", "state")))
	assert.Equal(t, []string{"PutRule"}, api.calls)
	assert.Equal(t, types.RuleStateDisabled, api.rules["nightly"].State)

	found, err := resource.Refresh(context.Background(), next)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, DefaultEventBus, next.EventBusName)
	assert.Equal(t, tags.Set{"Team": "ops"}, next.Tags())
}

func TestRule_IDOnCustomBus(t *testing.T) {
	r := &Rule{Name: "orders", EventBusName: "shop"}
	assert.Equal(t, "shop|orders", r.ID())
}

func TestTarget_RetryPolicy(t *testing.T) {
	p := testProvider()
	api := newFakeEvents()
	p.Events = api
	rule := &Rule{Name: "nightly", p: p}
	refs := resource.MapResolver{"nightly": rule}

	m, err := p.buildTarget(map[string]any{
		"rule": "nightly",
		"id":   "lambda",
		"arn":  "arn:aws:lambda:us-east-1:123456789012:function:job",
		"retry_policy": map[string]any{
			"maximum_retry_attempts":       3,
			"maximum_event_age_in_seconds": 3600,
		},
	}, refs)
	require.NoError(t, err)
	target := m.(*Target)
	assert.Equal(t, "nightly/lambda", target.ID())

	require.NoError(t, resource.Create(context.Background(), target, discard, &saves{}))
	sent := api.targets["nightly"][0]
	assert.Equal(t, int32(3), *sent.RetryPolicy.MaximumRetryAttempts)
	assert.Equal(t, int32(3600), *sent.RetryPolicy.MaximumEventAgeInSeconds)

	read := &Target{TargetID: "lambda", RuleName: "nightly", p: p}
	found, err := read.Read(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, target.RetryPolicy, read.RetryPolicy)
}

func TestTarget_Validation(t *testing.T) {
	p := testProvider()
	refs := resource.MapResolver{"r": &Rule{Name: "r", p: p}}
	tests := []struct {
		name  string
		props map[string]any
		want  string
	}{
		{
			name:  "retry attempts out of range",
			props: map[string]any{"rule": "r", "id": "t", "arn": "a", "retry_policy": map[string]any{"maximum_retry_attempts": 186}},
			want:  "retry_policy.maximum_retry_attempts: must be at most 185",
		},
		{
			name:  "event age too short",
			props: map[string]any{"rule": "r", "id": "t", "arn": "a", "retry_policy": map[string]any{"maximum_event_age_in_seconds": 30}},
			want:  "retry_policy.maximum_event_age_in_seconds: must be at least 60",
		},
		{
			name:  "input and input path",
			props: map[string]any{"rule": "r", "id": "t", "arn": "a", "input": "{}", "input_path": "$.detail"},
			want:  "mutually exclusive",
		},
		{
			name:  "missing rule",
			props: map[string]any{"id": "t", "arn": "a"},
			want:  "rule: is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.buildTarget(tt.props, refs)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestTarget_RejectedEntry(t *testing.T) {
	p := testProvider()
	api := newFakeEvents()
	api.reject = true
	p.Events = api

	target := &Target{TargetID: "t", ARN: "arn", RuleName: "r", p: p}
	err := target.Create(context.Background(), discard, &saves{})
	assert.ErrorContains(t, err, "target t rejected: ValidationException: bad arn")
}

func TestTargetFinder(t *testing.T) {
	p := testProvider()
	api := newFakeEvents()
	p.Events = api
	api.rules["a"] = &eventbridge.PutRuleInput{Name: awssdk.String("a")}
	api.rules["b"] = &eventbridge.PutRuleInput{Name: awssdk.String("b")}
	api.targets["a"] = []types.Target{{Id: awssdk.String("t1"), Arn: awssdk.String("arn1")}}
	api.targets["b"] = []types.Target{{Id: awssdk.String("t2"), Arn: awssdk.String("arn2")}}

	all, err := TargetFinder{p}.FindAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a/t1", all[0].ID())
	assert.Equal(t, "arn2", all[1].ARN)

	some, err := TargetFinder{p}.Find(context.Background(), map[string]string{"rule": "b"})
	require.NoError(t, err)
	require.Len(t, some, 1)
	assert.Equal(t, "t2", some[0].TargetID)
}

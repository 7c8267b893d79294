package aws

import (
	"context"
	"strings"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"

	"github.com/picklr-io/picklr-aws/internal/tags"
)

// EKS and CloudWatch Logs take tags as a map keyed by ARN.

type eksTagger struct{ api EKSAPI }

func (t eksTagger) TagResource(ctx context.Context, id string, s tags.Set) error {
	_, err := t.api.TagResource(ctx, &eks.TagResourceInput{ResourceArn: awssdk.String(id), Tags: s})
	return err
}

func (t eksTagger) UntagResource(ctx context.Context, id string, keys []string) error {
	_, err := t.api.UntagResource(ctx, &eks.UntagResourceInput{ResourceArn: awssdk.String(id), TagKeys: keys})
	return err
}

func listEKSTags(ctx context.Context, api EKSAPI, arn string) (tags.Set, error) {
	out, err := api.ListTagsForResource(ctx, &eks.ListTagsForResourceInput{ResourceArn: awssdk.String(arn)})
	if err != nil {
		return nil, err
	}
	return tags.Set(out.Tags).Clone(), nil
}

type logsTagger struct{ api LogsAPI }

func (t logsTagger) TagResource(ctx context.Context, id string, s tags.Set) error {
	_, err := t.api.TagResource(ctx, &cloudwatchlogs.TagResourceInput{ResourceArn: awssdk.String(id), Tags: s})
	return err
}

func (t logsTagger) UntagResource(ctx context.Context, id string, keys []string) error {
	_, err := t.api.UntagResource(ctx, &cloudwatchlogs.UntagResourceInput{ResourceArn: awssdk.String(id), TagKeys: keys})
	return err
}

// EventBridge and CloudWatch take a list of key/value structs.

type eventsTagger struct{ api EventBridgeAPI }

func (t eventsTagger) TagResource(ctx context.Context, id string, s tags.Set) error {
	list := make([]ebtypes.Tag, 0, len(s))
	for _, k := range s.Keys() {
		list = append(list, ebtypes.Tag{Key: awssdk.String(k), Value: awssdk.String(s[k])})
	}
	_, err := t.api.TagResource(ctx, &eventbridge.TagResourceInput{ResourceARN: awssdk.String(id), Tags: list})
	return err
}

func (t eventsTagger) UntagResource(ctx context.Context, id string, keys []string) error {
	_, err := t.api.UntagResource(ctx, &eventbridge.UntagResourceInput{ResourceARN: awssdk.String(id), TagKeys: keys})
	return err
}

func listEventsTags(ctx context.Context, api EventBridgeAPI, arn string) (tags.Set, error) {
	out, err := api.ListTagsForResource(ctx, &eventbridge.ListTagsForResourceInput{ResourceARN: awssdk.String(arn)})
	if err != nil {
		return nil, err
	}
	s := tags.Set{}
	for _, t := range out.Tags {
		s[awssdk.ToString(t.Key)] = awssdk.ToString(t.Value)
	}
	return s, nil
}

type cloudwatchTagger struct{ api CloudWatchAPI }

func (t cloudwatchTagger) TagResource(ctx context.Context, id string, s tags.Set) error {
	list := make([]cwtypes.Tag, 0, len(s))
	for _, k := range s.Keys() {
		list = append(list, cwtypes.Tag{Key: awssdk.String(k), Value: awssdk.String(s[k])})
	}
	_, err := t.api.TagResource(ctx, &cloudwatch.TagResourceInput{ResourceARN: awssdk.String(id), Tags: list})
	return err
}

func (t cloudwatchTagger) UntagResource(ctx context.Context, id string, keys []string) error {
	_, err := t.api.UntagResource(ctx, &cloudwatch.UntagResourceInput{ResourceARN: awssdk.String(id), TagKeys: keys})
	return err
}

// Route 53 changes tags through a single call addressed by zone ID.

type route53Tagger struct{ api Route53API }

func (t route53Tagger) TagResource(ctx context.Context, id string, s tags.Set) error {
	list := make([]r53types.Tag, 0, len(s))
	for _, k := range s.Keys() {
		list = append(list, r53types.Tag{Key: awssdk.String(k), Value: awssdk.String(s[k])})
	}
	_, err := t.api.ChangeTagsForResource(ctx, &route53.ChangeTagsForResourceInput{
		ResourceId:   awssdk.String(trimZoneID(id)),
		ResourceType: r53types.TagResourceTypeHostedzone,
		AddTags:      list,
	})
	return err
}

func (t route53Tagger) UntagResource(ctx context.Context, id string, keys []string) error {
	_, err := t.api.ChangeTagsForResource(ctx, &route53.ChangeTagsForResourceInput{
		ResourceId:    awssdk.String(trimZoneID(id)),
		ResourceType:  r53types.TagResourceTypeHostedzone,
		RemoveTagKeys: keys,
	})
	return err
}

func trimZoneID(id string) string {
	return strings.TrimPrefix(id, hostedZonePrefix)
}

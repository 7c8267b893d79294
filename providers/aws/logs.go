package aws

import (
	"context"
	"fmt"
	"slices"
	"strings"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"

	"github.com/picklr-io/picklr-aws/internal/errdefs"
	"github.com/picklr-io/picklr-aws/internal/resource"
	"github.com/picklr-io/picklr-aws/internal/tags"
)

// CloudWatch Log Group

type LogGroup struct {
	Name            string   `json:"name" picklr:"required,min=1,max=512"`
	RetentionInDays *int32   `json:"retention_in_days,omitempty" picklr:"updatable"`
	KMSKeyID        string   `json:"kms_key_id,omitempty" picklr:"updatable"`
	ResourceTags    tags.Set `json:"tags,omitempty" picklr:"updatable"`

	ARN string `json:"arn,omitempty" picklr:"output"`

	p *Provider
}

func (p *Provider) buildLogGroup(props map[string]any, _ resource.Resolver) (resource.Managed, error) {
	g := &LogGroup{p: p}
	if err := resource.Decode(props, g); err != nil {
		return nil, err
	}
	if g.RetentionInDays != nil && !slices.Contains(validRetentionDays, *g.RetentionInDays) {
		return nil, errdefs.Configf("retention_in_days", "%d is not one of %v", *g.RetentionInDays, validRetentionDays)
	}
	return g, nil
}

func (g *LogGroup) Type() string { return TypeLogGroup }
func (g *LogGroup) ID() string   { return g.Name }

func (g *LogGroup) Tags() tags.Set      { return g.ResourceTags }
func (g *LogGroup) SetTags(t tags.Set)  { g.ResourceTags = t }
func (g *LogGroup) TagID() string       { return g.ARN }
func (g *LogGroup) Tagger() tags.Tagger { return logsTagger{g.p.Logs} }

func (g *LogGroup) ListTags(ctx context.Context) (tags.Set, error) {
	out, err := g.p.Logs.ListTagsForResource(ctx, &cloudwatchlogs.ListTagsForResourceInput{
		ResourceArn: awssdk.String(g.ARN),
	})
	if err != nil {
		return nil, err
	}
	return tags.Set(out.Tags).Clone(), nil
}

// tagARN is the log group ARN without the ":*" suffix DescribeLogGroups
// appends, which the tagging API rejects.
func tagARN(arn string) string {
	return strings.TrimSuffix(arn, ":*")
}

func (g *LogGroup) describe(ctx context.Context) (*types.LogGroup, error) {
	pager := cloudwatchlogs.NewDescribeLogGroupsPaginator(g.p.Logs, &cloudwatchlogs.DescribeLogGroupsInput{
		LogGroupNamePrefix: awssdk.String(g.Name),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for i := range page.LogGroups {
			if awssdk.ToString(page.LogGroups[i].LogGroupName) == g.Name {
				return &page.LogGroups[i], nil
			}
		}
	}
	return nil, nil
}

func (g *LogGroup) Read(ctx context.Context) (bool, error) {
	lg, err := g.describe(ctx)
	if err != nil || lg == nil {
		return false, err
	}
	g.load(lg)
	return true, nil
}

func (g *LogGroup) load(lg *types.LogGroup) {
	g.RetentionInDays = lg.RetentionInDays
	g.KMSKeyID = awssdk.ToString(lg.KmsKeyId)
	g.ARN = tagARN(awssdk.ToString(lg.Arn))
}

func (g *LogGroup) Create(ctx context.Context, ui resource.UI, state resource.Checkpointer) error {
	ui.Printf("Creating log group %s\n", g.Name)
	_, err := g.p.Logs.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: awssdk.String(g.Name),
		KmsKeyId:     optString(g.KMSKeyID),
	})
	if err != nil {
		return fmt.Errorf("failed to create log group: %w", err)
	}

	lg, err := g.describe(ctx)
	if err != nil {
		return err
	}
	if lg == nil {
		return &errdefs.NotFoundError{Kind: "log group", ID: g.Name}
	}
	g.ARN = tagARN(awssdk.ToString(lg.Arn))
	if err := state.Save(); err != nil {
		return err
	}

	if g.RetentionInDays != nil {
		return g.putRetention(ctx)
	}
	return nil
}

func (g *LogGroup) putRetention(ctx context.Context) error {
	_, err := g.p.Logs.PutRetentionPolicy(ctx, &cloudwatchlogs.PutRetentionPolicyInput{
		LogGroupName:    awssdk.String(g.Name),
		RetentionInDays: g.RetentionInDays,
	})
	if err != nil {
		return fmt.Errorf("failed to set retention of log group %s: %w", g.Name, err)
	}
	return nil
}

func (g *LogGroup) Update(ctx context.Context, ui resource.UI, _ resource.Managed, changed resource.FieldSet) error {
	if changed.Has("retention_in_days") {
		if g.RetentionInDays == nil {
			ui.Printf("Removing retention of log group %s\n", g.Name)
			_, err := g.p.Logs.DeleteRetentionPolicy(ctx, &cloudwatchlogs.DeleteRetentionPolicyInput{
				LogGroupName: awssdk.String(g.Name),
			})
			if err != nil {
				return fmt.Errorf("failed to remove retention of log group %s: %w", g.Name, err)
			}
		} else {
			ui.Printf("Setting retention of log group %s to %d days\n", g.Name, *g.RetentionInDays)
			if err := g.putRetention(ctx); err != nil {
				return err
			}
		}
	}

	if changed.Has("kms_key_id") {
		var err error
		if g.KMSKeyID == "" {
			ui.Printf("Disassociating KMS key from log group %s\n", g.Name)
			_, err = g.p.Logs.DisassociateKmsKey(ctx, &cloudwatchlogs.DisassociateKmsKeyInput{
				LogGroupName: awssdk.String(g.Name),
			})
		} else {
			ui.Printf("Associating KMS key with log group %s\n", g.Name)
			_, err = g.p.Logs.AssociateKmsKey(ctx, &cloudwatchlogs.AssociateKmsKeyInput{
				LogGroupName: awssdk.String(g.Name),
				KmsKeyId:     awssdk.String(g.KMSKeyID),
			})
		}
		if err != nil {
			return fmt.Errorf("failed to change KMS key of log group %s: %w", g.Name, err)
		}
	}
	return nil
}

func (g *LogGroup) Delete(ctx context.Context, ui resource.UI) error {
	ui.Printf("Deleting log group %s\n", g.Name)
	_, err := g.p.Logs.DeleteLogGroup(ctx, &cloudwatchlogs.DeleteLogGroupInput{LogGroupName: awssdk.String(g.Name)})
	return err
}

// LogGroupFinder lists log groups, optionally by "name-prefix".
type LogGroupFinder struct{ p *Provider }

func (f LogGroupFinder) FindAll(ctx context.Context) ([]*LogGroup, error) {
	return f.Find(ctx, nil)
}

func (f LogGroupFinder) Find(ctx context.Context, filters map[string]string) ([]*LogGroup, error) {
	pager := cloudwatchlogs.NewDescribeLogGroupsPaginator(f.p.Logs, &cloudwatchlogs.DescribeLogGroupsInput{
		LogGroupNamePrefix: optString(filters["name-prefix"]),
	})
	var out []*LogGroup
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list log groups: %w", err)
		}
		for i := range page.LogGroups {
			g := &LogGroup{Name: awssdk.ToString(page.LogGroups[i].LogGroupName), p: f.p}
			g.load(&page.LogGroups[i])
			out = append(out, g)
		}
	}
	for _, g := range out {
		t, err := g.ListTags(ctx)
		if err != nil && !errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("failed to list tags of log group %s: %w", g.Name, err)
		}
		g.ResourceTags = t
	}
	return out, nil
}

package aws

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/smithy-go/middleware"

	"github.com/picklr-io/picklr-aws/internal/logging"
	"github.com/picklr-io/picklr-aws/internal/metrics"
	"github.com/picklr-io/picklr-aws/internal/resource"
	"github.com/picklr-io/picklr-aws/internal/retrycond"
	"github.com/picklr-io/picklr-aws/internal/wait"
)

// Options configures the AWS session shared by all resources.
type Options struct {
	Region  string
	Profile string
	// Retry replaces the SDK's standard retry behavior when set.
	Retry *retrycond.Retryer
	Wait  wait.Options
}

// LoadConfig resolves credentials and region and installs the retry and
// metrics middleware on every client built from the result.
func LoadConfig(ctx context.Context, opts Options) (awssdk.Config, error) {
	region := opts.Region
	if region == "" {
		region = DefaultRegion
	}

	apiOptions := []func(*middleware.Stack) error{metrics.CountAPICalls}
	if opts.Retry != nil {
		apiOptions = append(apiOptions, opts.Retry.APIOption)
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithAPIOptions(apiOptions),
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.Profile))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return awssdk.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	logging.Debug("loaded AWS config", "region", region, "profile", opts.Profile, "custom_retry", opts.Retry != nil)
	return cfg, nil
}

// Provider holds the service clients used by the resource types.
type Provider struct {
	EKS        EKSAPI
	Events     EventBridgeAPI
	Logs       LogsAPI
	CloudWatch CloudWatchAPI
	Route53    Route53API
	Wait       wait.Options
}

// New builds a Provider from an AWS config.
func New(cfg awssdk.Config, w wait.Options) *Provider {
	return &Provider{
		EKS:        eks.NewFromConfig(cfg),
		Events:     eventbridge.NewFromConfig(cfg),
		Logs:       cloudwatchlogs.NewFromConfig(cfg),
		CloudWatch: cloudwatch.NewFromConfig(cfg),
		Route53:    route53.NewFromConfig(cfg),
		Wait:       w,
	}
}

// Register adds every resource type to reg.
func (p *Provider) Register(reg *resource.Registry) {
	reg.Register(TypeEKSCluster, p.buildCluster, resource.Erase[*Cluster](ClusterFinder{p}, "name"))
	reg.Register(TypeEKSAddon, p.buildAddon, resource.Erase[*Addon](AddonFinder{p}, "cluster", "name"))
	reg.Register(TypeEKSIdentityProviderConfig, p.buildIdentityProviderConfig,
		resource.Erase[*IdentityProviderConfig](IdentityProviderConfigFinder{p}, "cluster", "name"))
	reg.Register(TypeEventBridgeRule, p.buildRule, resource.Erase[*Rule](RuleFinder{p}, "name-prefix", "event-bus"))
	reg.Register(TypeEventBridgeTarget, p.buildTarget, resource.Erase[*Target](TargetFinder{p}, "rule", "event-bus"))
	reg.Register(TypeLogGroup, p.buildLogGroup, resource.Erase[*LogGroup](LogGroupFinder{p}, "name-prefix"))
	reg.Register(TypeAlarm, p.buildAlarm, resource.Erase[*Alarm](AlarmFinder{p}, "name-prefix", "state"))
	reg.Register(TypeHostedZone, p.buildHostedZone, resource.Erase[*HostedZone](HostedZoneFinder{p}, "name"))
	reg.Register(TypeRecordSet, p.buildRecordSet, resource.Erase[*RecordSet](RecordSetFinder{p}, "zone", "type"))
}

func (p *Provider) waitOptions() wait.Options {
	return p.Wait.WithDefaults()
}

// loadAll refreshes each listed candidate, dropping any deleted since it
// was listed.
func loadAll[T resource.Managed](ctx context.Context, candidates []T) ([]T, error) {
	var out []T
	for _, c := range candidates {
		found, err := resource.Refresh(ctx, c)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, c)
		}
	}
	return out, nil
}

// optString returns nil for the empty string.
func optString(s string) *string {
	if s == "" {
		return nil
	}
	return awssdk.String(s)
}

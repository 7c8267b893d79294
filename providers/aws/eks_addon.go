package aws

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/eks/types"

	"github.com/picklr-io/picklr-aws/internal/resource"
	"github.com/picklr-io/picklr-aws/internal/tags"
)

// EKS Addon

type Addon struct {
	ClusterRef            string   `json:"cluster,omitempty"`
	Name                  string   `json:"name" picklr:"required"`
	AddonVersion          string   `json:"addon_version,omitempty" picklr:"updatable,computed"`
	ServiceAccountRoleARN string   `json:"service_account_role_arn,omitempty" picklr:"updatable"`
	ConfigurationValues   string   `json:"configuration_values,omitempty" picklr:"updatable,file"`
	ResolveConflicts      string   `json:"resolve_conflicts,omitempty" picklr:"updatable,oneof=NONE|OVERWRITE|PRESERVE"`
	ResourceTags          tags.Set `json:"tags,omitempty" picklr:"updatable"`

	ClusterName string `json:"cluster_name,omitempty" picklr:"output"`
	ARN         string `json:"arn,omitempty" picklr:"output"`
	Status      string `json:"status,omitempty" picklr:"output"`

	p *Provider
}

func (p *Provider) buildAddon(props map[string]any, refs resource.Resolver) (resource.Managed, error) {
	a := &Addon{p: p}
	if err := resource.Decode(props, a); err != nil {
		return nil, err
	}
	name, err := clusterName(refs, a.ClusterRef, a.ClusterName)
	if err != nil {
		return nil, err
	}
	a.ClusterName = name
	return a, nil
}

func (a *Addon) Type() string { return TypeEKSAddon }
func (a *Addon) ID() string   { return a.ClusterName + ":" + a.Name }

func (a *Addon) Tags() tags.Set      { return a.ResourceTags }
func (a *Addon) SetTags(t tags.Set)  { a.ResourceTags = t }
func (a *Addon) TagID() string       { return a.ARN }
func (a *Addon) Tagger() tags.Tagger { return eksTagger{a.p.EKS} }

func (a *Addon) ListTags(ctx context.Context) (tags.Set, error) {
	return listEKSTags(ctx, a.p.EKS, a.ARN)
}

func (a *Addon) describeInput() *eks.DescribeAddonInput {
	return &eks.DescribeAddonInput{
		ClusterName: awssdk.String(a.ClusterName),
		AddonName:   awssdk.String(a.Name),
	}
}

func (a *Addon) describe(ctx context.Context) (*types.Addon, error) {
	out, err := a.p.EKS.DescribeAddon(ctx, a.describeInput())
	if err != nil {
		return nil, err
	}
	return out.Addon, nil
}

func (a *Addon) Read(ctx context.Context) (bool, error) {
	ad, err := a.describe(ctx)
	if err != nil {
		return false, err
	}
	if ad == nil || ad.Status == types.AddonStatusDeleting {
		return false, nil
	}
	a.load(ad)
	return true, nil
}

func (a *Addon) load(ad *types.Addon) {
	a.AddonVersion = awssdk.ToString(ad.AddonVersion)
	a.ServiceAccountRoleARN = awssdk.ToString(ad.ServiceAccountRoleArn)
	a.ConfigurationValues = awssdk.ToString(ad.ConfigurationValues)
	a.ARN = awssdk.ToString(ad.AddonArn)
	a.Status = string(ad.Status)
}

func (a *Addon) Create(ctx context.Context, ui resource.UI, state resource.Checkpointer) error {
	ui.Printf("Creating EKS addon %s on cluster %s\n", a.Name, a.ClusterName)
	input := &eks.CreateAddonInput{
		ClusterName:           awssdk.String(a.ClusterName),
		AddonName:             awssdk.String(a.Name),
		AddonVersion:          optString(a.AddonVersion),
		ServiceAccountRoleArn: optString(a.ServiceAccountRoleARN),
		ConfigurationValues:   optString(a.ConfigurationValues),
		ResolveConflicts:      types.ResolveConflicts(a.ResolveConflicts),
	}

	out, err := a.p.EKS.CreateAddon(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to create EKS addon: %w", err)
	}
	if out.Addon != nil {
		a.ARN = awssdk.ToString(out.Addon.AddonArn)
		a.Status = string(out.Addon.Status)
	}
	if err := state.Save(); err != nil {
		return err
	}

	op, opts := "EKS addon "+a.ID(), a.p.waitOptions()
	w := eks.NewAddonActiveWaiter(a.p.EKS, func(o *eks.AddonActiveWaiterOptions) {
		o.MinDelay, o.MaxDelay = opts.Interval, opts.Interval
		o.Retryable = counted(op, o.Retryable)
	})
	if err := waiterErr(ctx, op, opts, w.Wait(ctx, a.describeInput(), opts.Timeout)); err != nil {
		return err
	}
	ad, err := a.describe(ctx)
	if err != nil {
		return err
	}
	a.load(ad)
	return nil
}

func (a *Addon) Update(ctx context.Context, ui resource.UI, _ resource.Managed, changed resource.FieldSet) error {
	if !changed.HasAny("addon_version", "service_account_role_arn", "configuration_values") {
		return nil
	}
	ui.Printf("Updating EKS addon %s on cluster %s\n", a.Name, a.ClusterName)
	input := &eks.UpdateAddonInput{
		ClusterName:           awssdk.String(a.ClusterName),
		AddonName:             awssdk.String(a.Name),
		AddonVersion:          optString(a.AddonVersion),
		ServiceAccountRoleArn: optString(a.ServiceAccountRoleARN),
		ConfigurationValues:   optString(a.ConfigurationValues),
		ResolveConflicts:      types.ResolveConflicts(a.ResolveConflicts),
	}
	out, err := a.p.EKS.UpdateAddon(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to update EKS addon: %w", err)
	}
	return a.p.waitEKSUpdate(ctx, a.ClusterName, a.Name, out.Update)
}

func (a *Addon) Delete(ctx context.Context, ui resource.UI) error {
	ui.Printf("Deleting EKS addon %s on cluster %s\n", a.Name, a.ClusterName)
	_, err := a.p.EKS.DeleteAddon(ctx, &eks.DeleteAddonInput{
		ClusterName: awssdk.String(a.ClusterName),
		AddonName:   awssdk.String(a.Name),
	})
	if err != nil {
		return err
	}
	op, opts := "deletion of EKS addon "+a.ID(), a.p.waitOptions()
	w := eks.NewAddonDeletedWaiter(a.p.EKS, func(o *eks.AddonDeletedWaiterOptions) {
		o.MinDelay, o.MaxDelay = opts.Interval, opts.Interval
		o.Retryable = counted(op, o.Retryable)
	})
	return waiterErr(ctx, op, opts, w.Wait(ctx, a.describeInput(), opts.Timeout))
}

// AddonFinder lists the addons of every cluster, or of the cluster named
// by the "cluster" filter. The "name" filter matches the addon name.
type AddonFinder struct{ p *Provider }

func (f AddonFinder) FindAll(ctx context.Context) ([]*Addon, error) {
	return f.Find(ctx, nil)
}

func (f AddonFinder) Find(ctx context.Context, filters map[string]string) ([]*Addon, error) {
	clusters, err := f.p.listClusterNames(ctx, filters)
	if err != nil {
		return nil, err
	}
	var candidates []*Addon
	for _, cluster := range clusters {
		pager := eks.NewListAddonsPaginator(f.p.EKS, &eks.ListAddonsInput{ClusterName: awssdk.String(cluster)})
		for pager.HasMorePages() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to list addons of EKS cluster %s: %w", cluster, err)
			}
			for _, name := range page.Addons {
				candidates = append(candidates, &Addon{Name: name, ClusterName: cluster, p: f.p})
			}
		}
	}
	if name, ok := filters["name"]; ok {
		candidates = resource.Filter(candidates, func(a *Addon) bool { return a.Name == name })
	}
	return loadAll(ctx, candidates)
}

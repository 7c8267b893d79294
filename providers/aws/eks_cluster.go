package aws

import (
	"context"
	"fmt"
	"slices"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/eks/types"

	"github.com/picklr-io/picklr-aws/internal/resource"
	"github.com/picklr-io/picklr-aws/internal/tags"
	"github.com/picklr-io/picklr-aws/internal/wait"
)

// EKS Cluster

var clusterLogTypes = []string{"api", "audit", "authenticator", "controllerManager", "scheduler"}

type Cluster struct {
	Name                  string   `json:"name" picklr:"required,min=1,max=100"`
	RoleARN               string   `json:"role_arn" picklr:"required"`
	Version               string   `json:"version,omitempty" picklr:"updatable,computed"`
	SubnetIDs             []string `json:"subnet_ids" picklr:"required,min=2"`
	SecurityGroupIDs      []string `json:"security_group_ids,omitempty" picklr:"max=5"`
	EndpointPublicAccess  *bool    `json:"endpoint_public_access,omitempty" picklr:"updatable,computed"`
	EndpointPrivateAccess *bool    `json:"endpoint_private_access,omitempty" picklr:"updatable,computed"`
	PublicAccessCIDRs     []string `json:"public_access_cidrs,omitempty" picklr:"updatable,computed"`
	EnabledLogTypes       []string `json:"enabled_log_types,omitempty" picklr:"updatable,oneof=api|audit|authenticator|controllerManager|scheduler"`
	ResourceTags          tags.Set `json:"tags,omitempty" picklr:"updatable"`

	ARN      string `json:"arn,omitempty" picklr:"output"`
	Endpoint string `json:"endpoint,omitempty" picklr:"output"`
	Status   string `json:"status,omitempty" picklr:"output"`

	p *Provider
}

func (p *Provider) buildCluster(props map[string]any, _ resource.Resolver) (resource.Managed, error) {
	c := &Cluster{p: p}
	if err := resource.Decode(props, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cluster) Type() string { return TypeEKSCluster }
func (c *Cluster) ID() string   { return c.Name }

func (c *Cluster) Tags() tags.Set      { return c.ResourceTags }
func (c *Cluster) SetTags(t tags.Set)  { c.ResourceTags = t }
func (c *Cluster) TagID() string       { return c.ARN }
func (c *Cluster) Tagger() tags.Tagger { return eksTagger{c.p.EKS} }

func (c *Cluster) ListTags(ctx context.Context) (tags.Set, error) {
	return listEKSTags(ctx, c.p.EKS, c.ARN)
}

func (c *Cluster) describe(ctx context.Context) (*types.Cluster, error) {
	out, err := c.p.EKS.DescribeCluster(ctx, &eks.DescribeClusterInput{Name: awssdk.String(c.Name)})
	if err != nil {
		return nil, err
	}
	return out.Cluster, nil
}

func (c *Cluster) Read(ctx context.Context) (bool, error) {
	cl, err := c.describe(ctx)
	if err != nil {
		return false, err
	}
	if cl == nil || cl.Status == types.ClusterStatusDeleting {
		return false, nil
	}
	c.load(cl)
	return true, nil
}

func (c *Cluster) load(cl *types.Cluster) {
	c.RoleARN = awssdk.ToString(cl.RoleArn)
	c.Version = awssdk.ToString(cl.Version)
	c.ARN = awssdk.ToString(cl.Arn)
	c.Endpoint = awssdk.ToString(cl.Endpoint)
	c.Status = string(cl.Status)
	if vpc := cl.ResourcesVpcConfig; vpc != nil {
		c.SubnetIDs = vpc.SubnetIds
		c.SecurityGroupIDs = vpc.SecurityGroupIds
		c.EndpointPublicAccess = awssdk.Bool(vpc.EndpointPublicAccess)
		c.EndpointPrivateAccess = awssdk.Bool(vpc.EndpointPrivateAccess)
		c.PublicAccessCIDRs = vpc.PublicAccessCidrs
	}
	c.EnabledLogTypes = nil
	if cl.Logging != nil {
		for _, setup := range cl.Logging.ClusterLogging {
			if !awssdk.ToBool(setup.Enabled) {
				continue
			}
			for _, t := range setup.Types {
				c.EnabledLogTypes = append(c.EnabledLogTypes, string(t))
			}
		}
		slices.Sort(c.EnabledLogTypes)
	}
}

func (c *Cluster) vpcConfig() *types.VpcConfigRequest {
	return &types.VpcConfigRequest{
		SubnetIds:             c.SubnetIDs,
		SecurityGroupIds:      c.SecurityGroupIDs,
		EndpointPublicAccess:  c.EndpointPublicAccess,
		EndpointPrivateAccess: c.EndpointPrivateAccess,
		PublicAccessCidrs:     c.PublicAccessCIDRs,
	}
}

// logging enables the configured log types and disables every other one.
func (c *Cluster) logging() *types.Logging {
	var enabled, disabled []types.LogType
	for _, t := range clusterLogTypes {
		if slices.Contains(c.EnabledLogTypes, t) {
			enabled = append(enabled, types.LogType(t))
		} else {
			disabled = append(disabled, types.LogType(t))
		}
	}
	l := &types.Logging{}
	if len(enabled) > 0 {
		l.ClusterLogging = append(l.ClusterLogging, types.LogSetup{Enabled: awssdk.Bool(true), Types: enabled})
	}
	if len(disabled) > 0 {
		l.ClusterLogging = append(l.ClusterLogging, types.LogSetup{Enabled: awssdk.Bool(false), Types: disabled})
	}
	return l
}

func (c *Cluster) Create(ctx context.Context, ui resource.UI, state resource.Checkpointer) error {
	ui.Printf("Creating EKS cluster %s\n", c.Name)
	input := &eks.CreateClusterInput{
		Name:               awssdk.String(c.Name),
		RoleArn:            awssdk.String(c.RoleARN),
		ResourcesVpcConfig: c.vpcConfig(),
	}
	if c.Version != "" {
		input.Version = awssdk.String(c.Version)
	}
	if len(c.EnabledLogTypes) > 0 {
		input.Logging = c.logging()
	}

	out, err := c.p.EKS.CreateCluster(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to create EKS cluster: %w", err)
	}
	if out.Cluster != nil {
		c.ARN = awssdk.ToString(out.Cluster.Arn)
		c.Status = string(out.Cluster.Status)
	}
	if err := state.Save(); err != nil {
		return err
	}

	ui.Printf("Waiting for EKS cluster %s to become active\n", c.Name)
	if err := c.waitActive(ctx); err != nil {
		return err
	}
	cl, err := c.describe(ctx)
	if err != nil {
		return err
	}
	c.load(cl)
	return nil
}

func (c *Cluster) waitActive(ctx context.Context) error {
	op, opts := "EKS cluster "+c.Name, c.p.waitOptions()
	w := eks.NewClusterActiveWaiter(c.p.EKS, func(o *eks.ClusterActiveWaiterOptions) {
		o.MinDelay, o.MaxDelay = opts.Interval, opts.Interval
		o.Retryable = counted(op, o.Retryable)
	})
	err := w.Wait(ctx, &eks.DescribeClusterInput{Name: awssdk.String(c.Name)}, opts.Timeout)
	return waiterErr(ctx, op, opts, err)
}

// Update issues one EKS update per changed concern. EKS rejects
// concurrent updates, so each is awaited before the next starts.
func (c *Cluster) Update(ctx context.Context, ui resource.UI, _ resource.Managed, changed resource.FieldSet) error {
	if changed.Has("version") {
		ui.Printf("Upgrading EKS cluster %s to %s\n", c.Name, c.Version)
		out, err := c.p.EKS.UpdateClusterVersion(ctx, &eks.UpdateClusterVersionInput{
			Name:    awssdk.String(c.Name),
			Version: awssdk.String(c.Version),
		})
		if err != nil {
			return fmt.Errorf("failed to update EKS cluster version: %w", err)
		}
		if err := c.waitUpdate(ctx, out.Update); err != nil {
			return err
		}
	}

	if changed.HasAny("endpoint_public_access", "endpoint_private_access", "public_access_cidrs") {
		ui.Printf("Updating endpoint access of EKS cluster %s\n", c.Name)
		out, err := c.p.EKS.UpdateClusterConfig(ctx, &eks.UpdateClusterConfigInput{
			Name: awssdk.String(c.Name),
			ResourcesVpcConfig: &types.VpcConfigRequest{
				EndpointPublicAccess:  c.EndpointPublicAccess,
				EndpointPrivateAccess: c.EndpointPrivateAccess,
				PublicAccessCidrs:     c.PublicAccessCIDRs,
			},
		})
		if err != nil {
			return fmt.Errorf("failed to update EKS cluster endpoint access: %w", err)
		}
		if err := c.waitUpdate(ctx, out.Update); err != nil {
			return err
		}
	}

	if changed.Has("enabled_log_types") {
		ui.Printf("Updating logging of EKS cluster %s\n", c.Name)
		out, err := c.p.EKS.UpdateClusterConfig(ctx, &eks.UpdateClusterConfigInput{
			Name:    awssdk.String(c.Name),
			Logging: c.logging(),
		})
		if err != nil {
			return fmt.Errorf("failed to update EKS cluster logging: %w", err)
		}
		if err := c.waitUpdate(ctx, out.Update); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cluster) waitUpdate(ctx context.Context, u *types.Update) error {
	return c.p.waitEKSUpdate(ctx, c.Name, "", u)
}

// waitEKSUpdate polls an asynchronous cluster or addon update until it
// succeeds. addon is empty for cluster updates.
func (p *Provider) waitEKSUpdate(ctx context.Context, cluster, addon string, u *types.Update) error {
	if u == nil || u.Id == nil {
		return nil
	}
	id := awssdk.ToString(u.Id)
	return wait.ForStatus(ctx, "EKS update "+id, p.waitOptions(),
		string(types.UpdateStatusSuccessful),
		[]string{string(types.UpdateStatusFailed), string(types.UpdateStatusCancelled)},
		func(ctx context.Context) (string, error) {
			in := &eks.DescribeUpdateInput{
				Name:     awssdk.String(cluster),
				UpdateId: awssdk.String(id),
			}
			if addon != "" {
				in.AddonName = awssdk.String(addon)
			}
			out, err := p.EKS.DescribeUpdate(ctx, in)
			if err != nil {
				return "", err
			}
			return string(out.Update.Status), nil
		})
}

// clusterName resolves the cluster a child resource belongs to. fallback
// is the name recorded in state, used when the parent is no longer
// configured.
func clusterName(refs resource.Resolver, ref, fallback string) (string, error) {
	parent, err := resource.Parent[*Cluster](refs, "cluster", ref)
	if err != nil {
		if fallback != "" {
			return fallback, nil
		}
		return "", err
	}
	return parent.Name, nil
}

// listClusterNames returns the clusters to search, or only the one named
// by the "cluster" filter.
func (p *Provider) listClusterNames(ctx context.Context, filters map[string]string) ([]string, error) {
	if name, ok := filters["cluster"]; ok {
		return []string{name}, nil
	}
	var names []string
	pager := eks.NewListClustersPaginator(p.EKS, &eks.ListClustersInput{})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list EKS clusters: %w", err)
		}
		names = append(names, page.Clusters...)
	}
	return names, nil
}

func (c *Cluster) Delete(ctx context.Context, ui resource.UI) error {
	ui.Printf("Deleting EKS cluster %s\n", c.Name)
	if _, err := c.p.EKS.DeleteCluster(ctx, &eks.DeleteClusterInput{Name: awssdk.String(c.Name)}); err != nil {
		return err
	}
	op, opts := "deletion of EKS cluster "+c.Name, c.p.waitOptions()
	w := eks.NewClusterDeletedWaiter(c.p.EKS, func(o *eks.ClusterDeletedWaiterOptions) {
		o.MinDelay, o.MaxDelay = opts.Interval, opts.Interval
		o.Retryable = counted(op, o.Retryable)
	})
	err := w.Wait(ctx, &eks.DescribeClusterInput{Name: awssdk.String(c.Name)}, opts.Timeout)
	return waiterErr(ctx, op, opts, err)
}

// ClusterFinder lists EKS clusters. It accepts the "name" filter.
type ClusterFinder struct{ p *Provider }

func (f ClusterFinder) FindAll(ctx context.Context) ([]*Cluster, error) {
	return f.Find(ctx, nil)
}

func (f ClusterFinder) Find(ctx context.Context, filters map[string]string) ([]*Cluster, error) {
	var names []string
	if name, ok := filters["name"]; ok {
		names = []string{name}
	} else {
		var err error
		if names, err = f.p.listClusterNames(ctx, nil); err != nil {
			return nil, err
		}
	}
	candidates := make([]*Cluster, len(names))
	for i, name := range names {
		candidates[i] = &Cluster{Name: name, p: f.p}
	}
	return loadAll(ctx, candidates)
}

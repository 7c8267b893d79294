package aws

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/eks/types"

	"github.com/picklr-io/picklr-aws/internal/resource"
	"github.com/picklr-io/picklr-aws/internal/tags"
	"github.com/picklr-io/picklr-aws/internal/wait"
)

// EKS Identity Provider Config

// IdentityProviderConfig associates an OIDC identity provider with a
// cluster. Only its tags can change in place.
type IdentityProviderConfig struct {
	ClusterRef     string            `json:"cluster,omitempty"`
	Name           string            `json:"name" picklr:"required"`
	IssuerURL      string            `json:"issuer_url" picklr:"required"`
	ClientID       string            `json:"client_id" picklr:"required"`
	UsernameClaim  string            `json:"username_claim,omitempty"`
	UsernamePrefix string            `json:"username_prefix,omitempty"`
	GroupsClaim    string            `json:"groups_claim,omitempty"`
	GroupsPrefix   string            `json:"groups_prefix,omitempty"`
	RequiredClaims map[string]string `json:"required_claims,omitempty"`
	ResourceTags   tags.Set          `json:"tags,omitempty" picklr:"updatable"`

	ClusterName string `json:"cluster_name,omitempty" picklr:"output"`
	ARN         string `json:"arn,omitempty" picklr:"output"`
	Status      string `json:"status,omitempty" picklr:"output"`

	p *Provider
}

func (p *Provider) buildIdentityProviderConfig(props map[string]any, refs resource.Resolver) (resource.Managed, error) {
	c := &IdentityProviderConfig{p: p}
	if err := resource.Decode(props, c); err != nil {
		return nil, err
	}
	name, err := clusterName(refs, c.ClusterRef, c.ClusterName)
	if err != nil {
		return nil, err
	}
	c.ClusterName = name
	return c, nil
}

func (c *IdentityProviderConfig) Type() string { return TypeEKSIdentityProviderConfig }
func (c *IdentityProviderConfig) ID() string   { return c.ClusterName + ":" + c.Name }

func (c *IdentityProviderConfig) Tags() tags.Set      { return c.ResourceTags }
func (c *IdentityProviderConfig) SetTags(t tags.Set)  { c.ResourceTags = t }
func (c *IdentityProviderConfig) TagID() string       { return c.ARN }
func (c *IdentityProviderConfig) Tagger() tags.Tagger { return eksTagger{c.p.EKS} }

func (c *IdentityProviderConfig) ListTags(ctx context.Context) (tags.Set, error) {
	return listEKSTags(ctx, c.p.EKS, c.ARN)
}

func (c *IdentityProviderConfig) ref() *types.IdentityProviderConfig {
	return &types.IdentityProviderConfig{
		Name: awssdk.String(c.Name),
		Type: awssdk.String(IdentityProviderTypeOIDC),
	}
}

func (c *IdentityProviderConfig) describe(ctx context.Context) (*types.OidcIdentityProviderConfig, error) {
	out, err := c.p.EKS.DescribeIdentityProviderConfig(ctx, &eks.DescribeIdentityProviderConfigInput{
		ClusterName:            awssdk.String(c.ClusterName),
		IdentityProviderConfig: c.ref(),
	})
	if err != nil {
		return nil, err
	}
	if out.IdentityProviderConfig == nil {
		return nil, nil
	}
	return out.IdentityProviderConfig.Oidc, nil
}

func (c *IdentityProviderConfig) Read(ctx context.Context) (bool, error) {
	oidc, err := c.describe(ctx)
	if err != nil {
		return false, err
	}
	if oidc == nil || oidc.Status == types.ConfigStatusDeleting {
		return false, nil
	}
	c.IssuerURL = awssdk.ToString(oidc.IssuerUrl)
	c.ClientID = awssdk.ToString(oidc.ClientId)
	c.UsernameClaim = awssdk.ToString(oidc.UsernameClaim)
	c.UsernamePrefix = awssdk.ToString(oidc.UsernamePrefix)
	c.GroupsClaim = awssdk.ToString(oidc.GroupsClaim)
	c.GroupsPrefix = awssdk.ToString(oidc.GroupsPrefix)
	c.RequiredClaims = oidc.RequiredClaims
	c.ARN = awssdk.ToString(oidc.IdentityProviderConfigArn)
	c.Status = string(oidc.Status)
	return true, nil
}

func (c *IdentityProviderConfig) status(ctx context.Context) (string, error) {
	oidc, err := c.describe(ctx)
	if err != nil {
		return "", err
	}
	if oidc == nil {
		return "", nil
	}
	return string(oidc.Status), nil
}

func (c *IdentityProviderConfig) Create(ctx context.Context, ui resource.UI, state resource.Checkpointer) error {
	ui.Printf("Associating identity provider %s with EKS cluster %s\n", c.Name, c.ClusterName)
	_, err := c.p.EKS.AssociateIdentityProviderConfig(ctx, &eks.AssociateIdentityProviderConfigInput{
		ClusterName: awssdk.String(c.ClusterName),
		Oidc: &types.OidcIdentityProviderConfigRequest{
			IdentityProviderConfigName: awssdk.String(c.Name),
			IssuerUrl:                  awssdk.String(c.IssuerURL),
			ClientId:                   awssdk.String(c.ClientID),
			UsernameClaim:              optString(c.UsernameClaim),
			UsernamePrefix:             optString(c.UsernamePrefix),
			GroupsClaim:                optString(c.GroupsClaim),
			GroupsPrefix:               optString(c.GroupsPrefix),
			RequiredClaims:             c.RequiredClaims,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to associate identity provider config: %w", err)
	}
	if err := state.Save(); err != nil {
		return err
	}

	err = wait.ForStatus(ctx, "identity provider config "+c.ID(), c.p.waitOptions(),
		string(types.ConfigStatusActive), nil, c.status)
	if err != nil {
		return err
	}
	_, err = c.Read(ctx)
	return err
}

// Update has nothing to do: every field except tags forces replacement.
func (c *IdentityProviderConfig) Update(context.Context, resource.UI, resource.Managed, resource.FieldSet) error {
	return nil
}

func (c *IdentityProviderConfig) Delete(ctx context.Context, ui resource.UI) error {
	ui.Printf("Disassociating identity provider %s from EKS cluster %s\n", c.Name, c.ClusterName)
	_, err := c.p.EKS.DisassociateIdentityProviderConfig(ctx, &eks.DisassociateIdentityProviderConfigInput{
		ClusterName:            awssdk.String(c.ClusterName),
		IdentityProviderConfig: c.ref(),
	})
	if err != nil {
		return err
	}
	return wait.ForDeletion(ctx, "disassociation of identity provider config "+c.ID(), c.p.waitOptions(),
		func(ctx context.Context) (bool, error) {
			oidc, err := c.describe(ctx)
			return oidc != nil, err
		})
}

// IdentityProviderConfigFinder lists OIDC configs per cluster. It accepts
// the "cluster" and "name" filters.
type IdentityProviderConfigFinder struct{ p *Provider }

func (f IdentityProviderConfigFinder) FindAll(ctx context.Context) ([]*IdentityProviderConfig, error) {
	return f.Find(ctx, nil)
}

func (f IdentityProviderConfigFinder) Find(ctx context.Context, filters map[string]string) ([]*IdentityProviderConfig, error) {
	clusters, err := f.p.listClusterNames(ctx, filters)
	if err != nil {
		return nil, err
	}
	var candidates []*IdentityProviderConfig
	for _, cluster := range clusters {
		pager := eks.NewListIdentityProviderConfigsPaginator(f.p.EKS, &eks.ListIdentityProviderConfigsInput{
			ClusterName: awssdk.String(cluster),
		})
		for pager.HasMorePages() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to list identity provider configs of EKS cluster %s: %w", cluster, err)
			}
			for _, ipc := range page.IdentityProviderConfigs {
				if awssdk.ToString(ipc.Type) != IdentityProviderTypeOIDC {
					continue
				}
				candidates = append(candidates, &IdentityProviderConfig{
					Name:        awssdk.ToString(ipc.Name),
					ClusterName: cluster,
					p:           f.p,
				})
			}
		}
	}
	if name, ok := filters["name"]; ok {
		candidates = resource.Filter(candidates, func(c *IdentityProviderConfig) bool { return c.Name == name })
	}
	return loadAll(ctx, candidates)
}

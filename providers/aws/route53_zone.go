package aws

import (
	"context"
	"fmt"
	"strings"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/oklog/ulid/v2"

	"github.com/picklr-io/picklr-aws/internal/resource"
	"github.com/picklr-io/picklr-aws/internal/tags"
)

// Route 53 Hosted Zone

type HostedZone struct {
	Name         string   `json:"name" picklr:"required,min=1,max=1024"`
	Comment      string   `json:"comment,omitempty" picklr:"updatable,max=256"`
	VPCID        string   `json:"vpc_id,omitempty"`
	VPCRegion    string   `json:"vpc_region,omitempty"`
	ResourceTags tags.Set `json:"tags,omitempty" picklr:"updatable"`

	ZoneID      string   `json:"zone_id,omitempty" picklr:"output"`
	NameServers []string `json:"name_servers,omitempty" picklr:"output"`

	p *Provider
}

func (p *Provider) buildHostedZone(props map[string]any, _ resource.Resolver) (resource.Managed, error) {
	z := &HostedZone{p: p}
	if err := resource.Decode(props, z); err != nil {
		return nil, err
	}
	z.Name = fqdn(z.Name)
	return z, nil
}

// fqdn lowercases a DNS name, adds the trailing dot Route 53 returns and
// unescapes the wildcard label.
func fqdn(name string) string {
	name = strings.ToLower(strings.ReplaceAll(name, `\052`, "*"))
	if name != "" && !strings.HasSuffix(name, ".") {
		name += "."
	}
	return name
}

func (z *HostedZone) Type() string { return TypeHostedZone }
func (z *HostedZone) ID() string   { return z.ZoneID }

func (z *HostedZone) Tags() tags.Set      { return z.ResourceTags }
func (z *HostedZone) SetTags(t tags.Set)  { z.ResourceTags = t }
func (z *HostedZone) TagID() string       { return z.ZoneID }
func (z *HostedZone) Tagger() tags.Tagger { return route53Tagger{z.p.Route53} }

func (z *HostedZone) ListTags(ctx context.Context) (tags.Set, error) {
	out, err := z.p.Route53.ListTagsForResource(ctx, &route53.ListTagsForResourceInput{
		ResourceId:   awssdk.String(z.ZoneID),
		ResourceType: types.TagResourceTypeHostedzone,
	})
	if err != nil {
		return nil, err
	}
	s := tags.Set{}
	if out.ResourceTagSet != nil {
		for _, t := range out.ResourceTagSet.Tags {
			s[awssdk.ToString(t.Key)] = awssdk.ToString(t.Value)
		}
	}
	return s, nil
}

func (z *HostedZone) Read(ctx context.Context) (bool, error) {
	if z.ZoneID == "" {
		return false, nil
	}
	out, err := z.p.Route53.GetHostedZone(ctx, &route53.GetHostedZoneInput{Id: awssdk.String(z.ZoneID)})
	if err != nil {
		return false, err
	}
	if out.HostedZone == nil {
		return false, nil
	}
	z.load(out.HostedZone)
	z.NameServers = nil
	if out.DelegationSet != nil {
		z.NameServers = out.DelegationSet.NameServers
	}
	z.VPCID, z.VPCRegion = "", ""
	if len(out.VPCs) > 0 {
		z.VPCID = awssdk.ToString(out.VPCs[0].VPCId)
		z.VPCRegion = string(out.VPCs[0].VPCRegion)
	}
	return true, nil
}

func (z *HostedZone) load(hz *types.HostedZone) {
	z.ZoneID = trimZoneID(awssdk.ToString(hz.Id))
	z.Name = fqdn(awssdk.ToString(hz.Name))
	z.Comment = ""
	if hz.Config != nil {
		z.Comment = awssdk.ToString(hz.Config.Comment)
	}
}

func (z *HostedZone) Create(ctx context.Context, ui resource.UI, state resource.Checkpointer) error {
	ui.Printf("Creating hosted zone %s\n", z.Name)
	input := &route53.CreateHostedZoneInput{
		Name:            awssdk.String(z.Name),
		CallerReference: awssdk.String(ulid.Make().String()),
		HostedZoneConfig: &types.HostedZoneConfig{
			Comment:     optString(z.Comment),
			PrivateZone: z.VPCID != "",
		},
	}
	if z.VPCID != "" {
		input.VPC = &types.VPC{VPCId: awssdk.String(z.VPCID), VPCRegion: types.VPCRegion(z.VPCRegion)}
	}
	out, err := z.p.Route53.CreateHostedZone(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to create hosted zone: %w", err)
	}
	z.load(out.HostedZone)
	if out.DelegationSet != nil {
		z.NameServers = out.DelegationSet.NameServers
	}
	if err := state.Save(); err != nil {
		return err
	}
	return z.p.waitInSync(ctx, out.ChangeInfo)
}

// waitInSync polls a Route 53 change until it has propagated.
func (p *Provider) waitInSync(ctx context.Context, info *types.ChangeInfo) error {
	if info == nil || info.Id == nil {
		return nil
	}
	id := strings.TrimPrefix(awssdk.ToString(info.Id), changePrefix)
	op, opts := "Route 53 change "+id, p.waitOptions()
	w := route53.NewResourceRecordSetsChangedWaiter(p.Route53, func(o *route53.ResourceRecordSetsChangedWaiterOptions) {
		o.MinDelay, o.MaxDelay = opts.Interval, opts.Interval
		o.Retryable = counted(op, o.Retryable)
	})
	return waiterErr(ctx, op, opts, w.Wait(ctx, &route53.GetChangeInput{Id: awssdk.String(id)}, opts.Timeout))
}

func (z *HostedZone) Update(ctx context.Context, ui resource.UI, _ resource.Managed, changed resource.FieldSet) error {
	if !changed.Has("comment") {
		return nil
	}
	ui.Printf("Updating comment of hosted zone %s\n", z.Name)
	_, err := z.p.Route53.UpdateHostedZoneComment(ctx, &route53.UpdateHostedZoneCommentInput{
		Id:      awssdk.String(z.ZoneID),
		Comment: awssdk.String(z.Comment),
	})
	if err != nil {
		return fmt.Errorf("failed to update hosted zone comment: %w", err)
	}
	return nil
}

func (z *HostedZone) Delete(ctx context.Context, ui resource.UI) error {
	ui.Printf("Deleting hosted zone %s (%s)\n", z.Name, z.ZoneID)
	out, err := z.p.Route53.DeleteHostedZone(ctx, &route53.DeleteHostedZoneInput{Id: awssdk.String(z.ZoneID)})
	if err != nil {
		return err
	}
	return z.p.waitInSync(ctx, out.ChangeInfo)
}

// HostedZoneFinder lists hosted zones, optionally matching "name".
type HostedZoneFinder struct{ p *Provider }

func (f HostedZoneFinder) FindAll(ctx context.Context) ([]*HostedZone, error) {
	return f.Find(ctx, nil)
}

func (f HostedZoneFinder) Find(ctx context.Context, filters map[string]string) ([]*HostedZone, error) {
	name, byName := filters["name"]
	var candidates []*HostedZone
	pager := route53.NewListHostedZonesPaginator(f.p.Route53, &route53.ListHostedZonesInput{})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list hosted zones: %w", err)
		}
		for i := range page.HostedZones {
			z := &HostedZone{p: f.p}
			z.load(&page.HostedZones[i])
			if byName && z.Name != fqdn(name) {
				continue
			}
			candidates = append(candidates, z)
		}
	}
	return loadAll(ctx, candidates)
}

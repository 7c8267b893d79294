package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"

	"github.com/picklr-io/picklr-aws/internal/errdefs"
	"github.com/picklr-io/picklr-aws/internal/resource"
)

// Route 53 Record Set

type Alias struct {
	HostedZoneID         string `json:"hosted_zone_id" picklr:"required"`
	DNSName              string `json:"dns_name" picklr:"required"`
	EvaluateTargetHealth bool   `json:"evaluate_target_health,omitempty"`
}

type RecordSet struct {
	ZoneRef       string   `json:"zone,omitempty"`
	Name          string   `json:"name" picklr:"required"`
	RecordType    string   `json:"type" picklr:"required,oneof=A|AAAA|CAA|CNAME|DS|MX|NAPTR|NS|PTR|SOA|SPF|SRV|TXT"`
	TTL           *int64   `json:"ttl,omitempty" picklr:"updatable,min=0,max=2147483647"`
	Records       []string `json:"records,omitempty" picklr:"updatable"`
	Alias         *Alias   `json:"alias,omitempty" picklr:"updatable"`
	SetIdentifier string   `json:"set_identifier,omitempty"`
	Weight        *int64   `json:"weight,omitempty" picklr:"updatable,min=0,max=255"`

	ZoneID string `json:"zone_id,omitempty" picklr:"output"`

	zone *HostedZone
	p    *Provider
}

func (p *Provider) buildRecordSet(props map[string]any, refs resource.Resolver) (resource.Managed, error) {
	r := &RecordSet{p: p}
	if err := resource.Decode(props, r); err != nil {
		return nil, err
	}
	if r.Alias != nil {
		if err := resource.ValidateFields(r.Alias); err != nil {
			return nil, errdefs.Nest("alias", err)
		}
		if r.TTL != nil || len(r.Records) > 0 {
			return nil, errdefs.Configf("alias", "alias records cannot set ttl or records")
		}
	} else if len(r.Records) == 0 {
		return nil, errdefs.Configf("records", "records or alias is required")
	}
	if r.SetIdentifier != "" && r.Weight == nil {
		return nil, errdefs.Configf("weight", "is required with set_identifier")
	}
	r.Name = fqdn(r.Name)

	zone, err := resource.Parent[*HostedZone](refs, "zone", r.ZoneRef)
	switch {
	case err == nil:
		r.zone = zone
	case r.ZoneID == "":
		return nil, err
	}
	return r, nil
}

// zoneID is read through the parent so a zone created earlier in the
// same run is addressed by the ID it was just given.
func (r *RecordSet) zoneID() string {
	if r.zone != nil && r.zone.ZoneID != "" {
		return r.zone.ZoneID
	}
	return r.ZoneID
}

func (r *RecordSet) Type() string { return TypeRecordSet }

func (r *RecordSet) ID() string {
	id := r.zoneID() + "/" + r.Name + "/" + r.RecordType
	if r.SetIdentifier != "" {
		id += "/" + r.SetIdentifier
	}
	return id
}

func (r *RecordSet) matches(rrs types.ResourceRecordSet) bool {
	return fqdn(awssdk.ToString(rrs.Name)) == r.Name &&
		string(rrs.Type) == r.RecordType &&
		awssdk.ToString(rrs.SetIdentifier) == r.SetIdentifier
}

func (r *RecordSet) Read(ctx context.Context) (bool, error) {
	input := &route53.ListResourceRecordSetsInput{
		HostedZoneId:    awssdk.String(r.zoneID()),
		StartRecordName: awssdk.String(r.Name),
		StartRecordType: types.RRType(r.RecordType),
	}
	if r.SetIdentifier != "" {
		input.StartRecordIdentifier = awssdk.String(r.SetIdentifier)
	}
	for {
		out, err := r.p.Route53.ListResourceRecordSets(ctx, input)
		if err != nil {
			return false, err
		}
		for _, rrs := range out.ResourceRecordSets {
			if r.matches(rrs) {
				r.load(rrs)
				r.ZoneID = r.zoneID()
				return true, nil
			}
			// Listing is ordered by name then type, so once past our
			// record it cannot appear later.
			if fqdn(awssdk.ToString(rrs.Name)) != r.Name {
				return false, nil
			}
		}
		if !out.IsTruncated {
			return false, nil
		}
		input.StartRecordName = out.NextRecordName
		input.StartRecordType = out.NextRecordType
		input.StartRecordIdentifier = out.NextRecordIdentifier
	}
}

func (r *RecordSet) load(rrs types.ResourceRecordSet) {
	r.TTL = rrs.TTL
	r.Records = nil
	for _, rr := range rrs.ResourceRecords {
		r.Records = append(r.Records, awssdk.ToString(rr.Value))
	}
	r.Alias = nil
	if at := rrs.AliasTarget; at != nil {
		r.Alias = &Alias{
			HostedZoneID:         awssdk.ToString(at.HostedZoneId),
			DNSName:              awssdk.ToString(at.DNSName),
			EvaluateTargetHealth: at.EvaluateTargetHealth,
		}
	}
	r.Weight = rrs.Weight
}

func (r *RecordSet) recordSet() *types.ResourceRecordSet {
	rrs := &types.ResourceRecordSet{
		Name:          awssdk.String(r.Name),
		Type:          types.RRType(r.RecordType),
		TTL:           r.TTL,
		SetIdentifier: optString(r.SetIdentifier),
		Weight:        r.Weight,
	}
	for _, v := range r.Records {
		rrs.ResourceRecords = append(rrs.ResourceRecords, types.ResourceRecord{Value: awssdk.String(v)})
	}
	if r.Alias != nil {
		rrs.AliasTarget = &types.AliasTarget{
			HostedZoneId:         awssdk.String(r.Alias.HostedZoneID),
			DNSName:              awssdk.String(r.Alias.DNSName),
			EvaluateTargetHealth: r.Alias.EvaluateTargetHealth,
		}
	}
	return rrs
}

func (r *RecordSet) change(ctx context.Context, action types.ChangeAction, rrs *types.ResourceRecordSet) error {
	out, err := r.p.Route53.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: awssdk.String(r.zoneID()),
		ChangeBatch: &types.ChangeBatch{
			Changes: []types.Change{{Action: action, ResourceRecordSet: rrs}},
		},
	})
	if err != nil {
		if isRecordNotFound(err) {
			return &errdefs.NotFoundError{Kind: "record set", ID: r.ID()}
		}
		return err
	}
	return r.p.waitInSync(ctx, out.ChangeInfo)
}

// isRecordNotFound recognises the batch error Route 53 returns when a
// DELETE names a record that does not exist.
func isRecordNotFound(err error) bool {
	var icb *types.InvalidChangeBatch
	if !errors.As(err, &icb) {
		return false
	}
	msgs := append([]string{awssdk.ToString(icb.Message)}, icb.Messages...)
	for _, m := range msgs {
		if strings.Contains(m, "not found") {
			return true
		}
	}
	return false
}

func (r *RecordSet) Create(ctx context.Context, ui resource.UI, state resource.Checkpointer) error {
	ui.Printf("Creating %s record %s\n", r.RecordType, r.Name)
	r.ZoneID = r.zoneID()
	if err := r.change(ctx, types.ChangeActionCreate, r.recordSet()); err != nil {
		return fmt.Errorf("failed to create record set: %w", err)
	}
	return nil
}

func (r *RecordSet) Update(ctx context.Context, ui resource.UI, _ resource.Managed, _ resource.FieldSet) error {
	ui.Printf("Updating %s record %s\n", r.RecordType, r.Name)
	if err := r.change(ctx, types.ChangeActionUpsert, r.recordSet()); err != nil {
		return fmt.Errorf("failed to update record set: %w", err)
	}
	return nil
}

// Delete must send the record exactly as it exists, so it is read first.
func (r *RecordSet) Delete(ctx context.Context, ui resource.UI) error {
	ui.Printf("Deleting %s record %s\n", r.RecordType, r.Name)
	current := *r
	found, err := current.Read(ctx)
	if err != nil {
		return err
	}
	if !found {
		return &errdefs.NotFoundError{Kind: "record set", ID: r.ID()}
	}
	return current.change(ctx, types.ChangeActionDelete, current.recordSet())
}

// RecordSetFinder lists record sets of every zone, or of the zone named by
// the "zone" filter. "type" keeps only one record type.
type RecordSetFinder struct{ p *Provider }

func (f RecordSetFinder) FindAll(ctx context.Context) ([]*RecordSet, error) {
	return f.Find(ctx, nil)
}

func (f RecordSetFinder) Find(ctx context.Context, filters map[string]string) ([]*RecordSet, error) {
	var zones []string
	if id, ok := filters["zone"]; ok {
		zones = []string{trimZoneID(id)}
	} else {
		found, err := HostedZoneFinder{f.p}.FindAll(ctx)
		if err != nil {
			return nil, err
		}
		for _, z := range found {
			zones = append(zones, z.ZoneID)
		}
	}

	var out []*RecordSet
	for _, zone := range zones {
		input := &route53.ListResourceRecordSetsInput{HostedZoneId: awssdk.String(zone)}
		for {
			page, err := f.p.Route53.ListResourceRecordSets(ctx, input)
			if err != nil {
				return nil, fmt.Errorf("failed to list record sets of zone %s: %w", zone, err)
			}
			for _, rrs := range page.ResourceRecordSets {
				r := &RecordSet{
					Name:          fqdn(awssdk.ToString(rrs.Name)),
					RecordType:    string(rrs.Type),
					SetIdentifier: awssdk.ToString(rrs.SetIdentifier),
					ZoneID:        zone,
					p:             f.p,
				}
				r.load(rrs)
				out = append(out, r)
			}
			if !page.IsTruncated {
				break
			}
			input.StartRecordName = page.NextRecordName
			input.StartRecordType = page.NextRecordType
			input.StartRecordIdentifier = page.NextRecordIdentifier
		}
	}
	if t, ok := filters["type"]; ok {
		out = resource.Filter(out, func(r *RecordSet) bool { return r.RecordType == t })
	}
	return out, nil
}

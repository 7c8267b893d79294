package aws

import (
	"context"
	"fmt"
	"testing"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/picklr-aws/internal/errdefs"
	"github.com/picklr-io/picklr-aws/internal/resource"
	"github.com/picklr-io/picklr-aws/internal/tags"
)

// fakeRoute53 reports every change PENDING on its first GetChange.
type fakeRoute53 struct {
	Route53API

	calls   []string
	zones   map[string]*types.HostedZone
	records map[string][]types.ResourceRecordSet
	tags    map[string]tags.Set
	polled  map[string]int
	refs    []string

	neverSync bool
}

func newFakeRoute53() *fakeRoute53 {
	return &fakeRoute53{
		zones:   map[string]*types.HostedZone{},
		records: map[string][]types.ResourceRecordSet{},
		tags:    map[string]tags.Set{},
		polled:  map[string]int{},
	}
}

func (f *fakeRoute53) CreateHostedZone(_ context.Context, in *route53.CreateHostedZoneInput, _ ...func(*route53.Options)) (*route53.CreateHostedZoneOutput, error) {
	f.calls = append(f.calls, "CreateHostedZone")
	f.refs = append(f.refs, awssdk.ToString(in.CallerReference))
	hz := &types.HostedZone{
		Id:              awssdk.String("/hostedzone/Z0123"),
		Name:            in.Name,
		CallerReference: in.CallerReference,
		Config:          in.HostedZoneConfig,
	}
	f.zones["Z0123"] = hz
	return &route53.CreateHostedZoneOutput{
		HostedZone:    hz,
		ChangeInfo:    &types.ChangeInfo{Id: awssdk.String("/change/C1"), Status: types.ChangeStatusPending},
		DelegationSet: &types.DelegationSet{NameServers: []string{"ns-1.awsdns-00.com"}},
	}, nil
}

func (f *fakeRoute53) GetHostedZone(_ context.Context, in *route53.GetHostedZoneInput, _ ...func(*route53.Options)) (*route53.GetHostedZoneOutput, error) {
	hz, ok := f.zones[awssdk.ToString(in.Id)]
	if !ok {
		return nil, &types.NoSuchHostedZone{Message: awssdk.String("No hosted zone found with ID: " + awssdk.ToString(in.Id))}
	}
	return &route53.GetHostedZoneOutput{HostedZone: hz}, nil
}

func (f *fakeRoute53) GetChange(_ context.Context, in *route53.GetChangeInput, _ ...func(*route53.Options)) (*route53.GetChangeOutput, error) {
	f.calls = append(f.calls, "GetChange")
	id := awssdk.ToString(in.Id)
	f.polled[id]++
	status := types.ChangeStatusPending
	if f.polled[id] > 1 && !f.neverSync {
		status = types.ChangeStatusInsync
	}
	return &route53.GetChangeOutput{ChangeInfo: &types.ChangeInfo{Id: in.Id, Status: status}}, nil
}

func (f *fakeRoute53) ChangeTagsForResource(_ context.Context, in *route53.ChangeTagsForResourceInput, _ ...func(*route53.Options)) (*route53.ChangeTagsForResourceOutput, error) {
	f.calls = append(f.calls, "ChangeTagsForResource")
	id := awssdk.ToString(in.ResourceId)
	if f.tags[id] == nil {
		f.tags[id] = tags.Set{}
	}
	for _, k := range in.RemoveTagKeys {
		delete(f.tags[id], k)
	}
	for _, t := range in.AddTags {
		f.tags[id][awssdk.ToString(t.Key)] = awssdk.ToString(t.Value)
	}
	return &route53.ChangeTagsForResourceOutput{}, nil
}

func (f *fakeRoute53) ChangeResourceRecordSets(_ context.Context, in *route53.ChangeResourceRecordSetsInput, _ ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error) {
	zone := awssdk.ToString(in.HostedZoneId)
	for _, c := range in.ChangeBatch.Changes {
		f.calls = append(f.calls, "ChangeResourceRecordSets:"+string(c.Action))
		rrs := *c.ResourceRecordSet
		idx := -1
		for i, existing := range f.records[zone] {
			if awssdk.ToString(existing.Name) == awssdk.ToString(rrs.Name) && existing.Type == rrs.Type {
				idx = i
			}
		}
		switch c.Action {
		case types.ChangeActionDelete:
			if idx < 0 {
				msg := "Tried to delete resource record set [name='" + awssdk.ToString(rrs.Name) + "', type='" + string(rrs.Type) + "'] but it was not found"
				return nil, &types.InvalidChangeBatch{Messages: []string{msg}}
			}
			f.records[zone] = append(f.records[zone][:idx], f.records[zone][idx+1:]...)
		case types.ChangeActionUpsert:
			if idx >= 0 {
				f.records[zone][idx] = rrs
				break
			}
			fallthrough
		default:
			f.records[zone] = append(f.records[zone], rrs)
		}
	}
	return &route53.ChangeResourceRecordSetsOutput{
		ChangeInfo: &types.ChangeInfo{Id: awssdk.String(fmt.Sprintf("/change/C%d", len(f.calls))), Status: types.ChangeStatusPending},
	}, nil
}

func (f *fakeRoute53) ListResourceRecordSets(_ context.Context, in *route53.ListResourceRecordSetsInput, _ ...func(*route53.Options)) (*route53.ListResourceRecordSetsOutput, error) {
	return &route53.ListResourceRecordSetsOutput{ResourceRecordSets: f.records[awssdk.ToString(in.HostedZoneId)]}, nil
}

func TestFQDN(t *testing.T) {
	tests := map[string]string{
		"example.com":       "example.com.",
		"Example.COM.":      "example.com.",
		`\052.example.com.`: "*.example.com.",
		"":                  "",
	}
	for in, want := range tests {
		assert.Equal(t, want, fqdn(in), in)
	}
}

func TestHostedZone_Create(t *testing.T) {
	p := testProvider()
	api := newFakeRoute53()
	p.Route53 = api

	m, err := p.buildHostedZone(map[string]any{
		"name":    "Example.com",
		"comment": "public",
		"tags":    map[string]string{"Owner": "dns"},
	}, nil)
	require.NoError(t, err)
	z := m.(*HostedZone)
	assert.Empty(t, z.ID())

	s := &saves{}
	require.NoError(t, resource.Create(context.Background(), z, discard, s))
	assert.Equal(t, "Z0123", z.ID())
	assert.Equal(t, "example.com.", z.Name)
	assert.Equal(t, []string{"ns-1.awsdns-00.com"}, z.NameServers)
	assert.Equal(t, []string{"CreateHostedZone", "GetChange", "GetChange", "ChangeTagsForResource"}, api.calls)
	assert.Equal(t, tags.Set{"Owner": "dns"}, api.tags["Z0123"])
	assert.Equal(t, 3, s.n)

	require.Len(t, api.refs, 1)
	assert.Len(t, api.refs[0], 26, "caller reference is a ULID")
}

func TestHostedZone_RefreshMissing(t *testing.T) {
	p := testProvider()
	p.Route53 = newFakeRoute53()
	z := &HostedZone{Name: "example.com.", ZoneID: "Zgone", p: p}

	found, err := resource.Refresh(context.Background(), z)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRecordSet_UsesParentZoneID(t *testing.T) {
	p := testProvider()
	api := newFakeRoute53()
	p.Route53 = api

	zone := &HostedZone{Name: "example.com.", p: p}
	m, err := p.buildRecordSet(map[string]any{
		"zone":    "main",
		"name":    "www.example.com",
		"type":    "A",
		"ttl":     300,
		"records": []string{"192.0.2.1"},
	}, resource.MapResolver{"main": zone})
	require.NoError(t, err)
	r := m.(*RecordSet)

	// The zone gets its ID only when it is created, after the record was built.
	zone.ZoneID = "Z0123"
	require.NoError(t, resource.Create(context.Background(), r, discard, &saves{}))
	assert.Equal(t, "Z0123", r.ZoneID)
	assert.Equal(t, "Z0123/www.example.com./A", r.ID())
	require.Len(t, api.records["Z0123"], 1)

	next := *r
	next.TTL = awssdk.Int64(60)
	changed, err := resource.Changed(r, &next)
	require.NoError(t, err)
	assert.Equal(t, []string{"ttl"}, changed.Names())
	require.NoError(t, resource.Update(context.Background(), &next, discard, &saves{}, r, changed))
	assert.Equal(t, int64(60), *api.records["Z0123"][0].TTL)

	require.NoError(t, resource.Delete(context.Background(), &next, discard))
	assert.Empty(t, api.records["Z0123"])

	// Already gone.
	require.NoError(t, resource.Delete(context.Background(), &next, discard))
}

func TestRecordSet_NotFoundBatchError(t *testing.T) {
	batchErr := &types.InvalidChangeBatch{Messages: []string{"Tried to delete resource record set but it was not found"}}
	assert.True(t, isRecordNotFound(batchErr))
	assert.False(t, isRecordNotFound(&types.InvalidChangeBatch{Messages: []string{"RRSet already exists"}}))

	p := testProvider()
	api := newFakeRoute53()
	p.Route53 = api
	r := &RecordSet{Name: "gone.example.com.", RecordType: "A", ZoneID: "Z1", Records: []string{"192.0.2.1"}, p: p}
	err := r.change(context.Background(), types.ChangeActionDelete, r.recordSet())
	assert.True(t, errdefs.IsNotFound(err))
}

func TestRecordSet_Validation(t *testing.T) {
	p := testProvider()
	refs := resource.MapResolver{"z": &HostedZone{Name: "example.com.", p: p}}
	tests := []struct {
		name  string
		props map[string]any
		want  string
	}{
		{
			name:  "no records or alias",
			props: map[string]any{"zone": "z", "name": "a", "type": "A"},
			want:  "records: records or alias is required",
		},
		{
			name: "alias with ttl",
			props: map[string]any{
				"zone": "z", "name": "a", "type": "A", "ttl": 60,
				"alias": map[string]any{"hosted_zone_id": "Z2", "dns_name": "lb.example.com"},
			},
			want: "alias records cannot set ttl or records",
		},
		{
			name:  "alias missing dns name",
			props: map[string]any{"zone": "z", "name": "a", "type": "A", "alias": map[string]any{"hosted_zone_id": "Z2"}},
			want:  "alias.dns_name: is required",
		},
		{
			name:  "bad type",
			props: map[string]any{"zone": "z", "name": "a", "type": "ALIAS", "records": []string{"x"}},
			want:  `type: "ALIAS" is not one of`,
		},
		{
			name:  "set identifier without weight",
			props: map[string]any{"zone": "z", "name": "a", "type": "A", "records": []string{"x"}, "set_identifier": "blue"},
			want:  "weight: is required with set_identifier",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.buildRecordSet(tt.props, refs)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func (f *fakeRoute53) ListHostedZones(_ context.Context, _ *route53.ListHostedZonesInput, _ ...func(*route53.Options)) (*route53.ListHostedZonesOutput, error) {
	out := &route53.ListHostedZonesOutput{}
	for _, hz := range f.zones {
		out.HostedZones = append(out.HostedZones, *hz)
	}
	return out, nil
}

func (f *fakeRoute53) ListTagsForResource(_ context.Context, in *route53.ListTagsForResourceInput, _ ...func(*route53.Options)) (*route53.ListTagsForResourceOutput, error) {
	set := &types.ResourceTagSet{ResourceId: in.ResourceId, ResourceType: in.ResourceType}
	for k, v := range f.tags[awssdk.ToString(in.ResourceId)] {
		set.Tags = append(set.Tags, types.Tag{Key: awssdk.String(k), Value: awssdk.String(v)})
	}
	return &route53.ListTagsForResourceOutput{ResourceTagSet: set}, nil
}

func TestRecordSetFinder(t *testing.T) {
	p := testProvider()
	api := newFakeRoute53()
	api.zones["Z1"] = &types.HostedZone{Id: awssdk.String("/hostedzone/Z1"), Name: awssdk.String("example.com.")}
	api.tags["Z1"] = tags.Set{"env": "prod"}
	api.records["Z1"] = []types.ResourceRecordSet{
		{Name: awssdk.String("example.com."), Type: types.RRTypeNs, TTL: awssdk.Int64(172800)},
		{Name: awssdk.String(`\052.example.com.`), Type: types.RRTypeA, TTL: awssdk.Int64(60),
			ResourceRecords: []types.ResourceRecord{{Value: awssdk.String("192.0.2.1")}}},
	}
	p.Route53 = api

	zones, err := HostedZoneFinder{p}.Find(context.Background(), map[string]string{"name": "EXAMPLE.com"})
	require.NoError(t, err)
	require.Len(t, zones, 1)
	assert.Equal(t, "Z1", zones[0].ZoneID)
	assert.Equal(t, tags.Set{"env": "prod"}, zones[0].ResourceTags)

	all, err := RecordSetFinder{p}.FindAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)

	a, err := RecordSetFinder{p}.Find(context.Background(), map[string]string{"zone": "/hostedzone/Z1", "type": "A"})
	require.NoError(t, err)
	require.Len(t, a, 1)
	assert.Equal(t, "*.example.com.", a[0].Name)
	assert.Equal(t, []string{"192.0.2.1"}, a[0].Records)
	assert.Equal(t, "Z1/*.example.com./A", a[0].ID())
}

package aws

import (
	"context"
	"slices"
	"testing"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/eks/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/picklr-aws/internal/errdefs"
	"github.com/picklr-io/picklr-aws/internal/resource"
	"github.com/picklr-io/picklr-aws/internal/tags"
	"github.com/picklr-io/picklr-aws/internal/wait"
)

// fakeEKS keeps clusters in memory. A created cluster reports CREATING on
// its first describe and ACTIVE afterwards.
type fakeEKS struct {
	EKSAPI

	calls    []string
	clusters map[string]*types.Cluster
	describe map[string]int
	addons   map[string]*types.Addon
	tags     map[string]tags.Set
	updates  []string
}

func newFakeEKS() *fakeEKS {
	return &fakeEKS{
		clusters: map[string]*types.Cluster{},
		describe: map[string]int{},
		addons:   map[string]*types.Addon{},
		tags:     map[string]tags.Set{},
	}
}

func notFound(msg string) error {
	return &types.ResourceNotFoundException{Message: awssdk.String(msg)}
}

func (f *fakeEKS) CreateCluster(_ context.Context, in *eks.CreateClusterInput, _ ...func(*eks.Options)) (*eks.CreateClusterOutput, error) {
	f.calls = append(f.calls, "CreateCluster")
	name := awssdk.ToString(in.Name)
	cl := &types.Cluster{
		Name:     in.Name,
		Arn:      awssdk.String("arn:aws:eks:us-east-1:123456789012:cluster/" + name),
		RoleArn:  in.RoleArn,
		Version:  awssdk.String("1.30"),
		Endpoint: awssdk.String("https://" + name + ".eks.amazonaws.com"),
		Status:   types.ClusterStatusCreating,
		ResourcesVpcConfig: &types.VpcConfigResponse{
			SubnetIds:            in.ResourcesVpcConfig.SubnetIds,
			EndpointPublicAccess: true,
		},
	}
	if in.Version != nil {
		cl.Version = in.Version
	}
	f.clusters[name] = cl
	return &eks.CreateClusterOutput{Cluster: cl}, nil
}

func (f *fakeEKS) DescribeCluster(_ context.Context, in *eks.DescribeClusterInput, _ ...func(*eks.Options)) (*eks.DescribeClusterOutput, error) {
	f.calls = append(f.calls, "DescribeCluster")
	name := awssdk.ToString(in.Name)
	cl, ok := f.clusters[name]
	if !ok {
		return nil, notFound("No cluster found for name: " + name)
	}
	f.describe[name]++
	if cl.Status == types.ClusterStatusCreating && f.describe[name] > 1 {
		cl.Status = types.ClusterStatusActive
	}
	out := *cl
	return &eks.DescribeClusterOutput{Cluster: &out}, nil
}

func (f *fakeEKS) UpdateClusterVersion(_ context.Context, in *eks.UpdateClusterVersionInput, _ ...func(*eks.Options)) (*eks.UpdateClusterVersionOutput, error) {
	f.calls = append(f.calls, "UpdateClusterVersion")
	f.clusters[awssdk.ToString(in.Name)].Version = in.Version
	return &eks.UpdateClusterVersionOutput{Update: &types.Update{Id: awssdk.String("u-version")}}, nil
}

func (f *fakeEKS) UpdateClusterConfig(_ context.Context, in *eks.UpdateClusterConfigInput, _ ...func(*eks.Options)) (*eks.UpdateClusterConfigOutput, error) {
	f.calls = append(f.calls, "UpdateClusterConfig")
	cl := f.clusters[awssdk.ToString(in.Name)]
	if in.Logging != nil {
		cl.Logging = in.Logging
	}
	return &eks.UpdateClusterConfigOutput{Update: &types.Update{Id: awssdk.String("u-config")}}, nil
}

func (f *fakeEKS) DescribeUpdate(_ context.Context, in *eks.DescribeUpdateInput, _ ...func(*eks.Options)) (*eks.DescribeUpdateOutput, error) {
	f.calls = append(f.calls, "DescribeUpdate")
	f.updates = append(f.updates, awssdk.ToString(in.UpdateId))
	return &eks.DescribeUpdateOutput{Update: &types.Update{Id: in.UpdateId, Status: types.UpdateStatusSuccessful}}, nil
}

func (f *fakeEKS) DeleteCluster(_ context.Context, in *eks.DeleteClusterInput, _ ...func(*eks.Options)) (*eks.DeleteClusterOutput, error) {
	f.calls = append(f.calls, "DeleteCluster")
	name := awssdk.ToString(in.Name)
	if _, ok := f.clusters[name]; !ok {
		return nil, notFound("No cluster found for name: " + name)
	}
	delete(f.clusters, name)
	return &eks.DeleteClusterOutput{}, nil
}

func (f *fakeEKS) CreateAddon(_ context.Context, in *eks.CreateAddonInput, _ ...func(*eks.Options)) (*eks.CreateAddonOutput, error) {
	f.calls = append(f.calls, "CreateAddon")
	ad := &types.Addon{
		AddonName:           in.AddonName,
		ClusterName:         in.ClusterName,
		AddonArn:            awssdk.String("arn:aws:eks:us-east-1:123456789012:addon/" + awssdk.ToString(in.ClusterName) + "/" + awssdk.ToString(in.AddonName)),
		AddonVersion:        awssdk.String("v1.0.0-eksbuild.1"),
		ConfigurationValues: in.ConfigurationValues,
		Status:              types.AddonStatusActive,
	}
	f.addons[awssdk.ToString(in.ClusterName)+"/"+awssdk.ToString(in.AddonName)] = ad
	return &eks.CreateAddonOutput{Addon: ad}, nil
}

func (f *fakeEKS) DescribeAddon(_ context.Context, in *eks.DescribeAddonInput, _ ...func(*eks.Options)) (*eks.DescribeAddonOutput, error) {
	ad, ok := f.addons[awssdk.ToString(in.ClusterName)+"/"+awssdk.ToString(in.AddonName)]
	if !ok {
		return nil, notFound("addon not found")
	}
	return &eks.DescribeAddonOutput{Addon: ad}, nil
}

func (f *fakeEKS) DeleteAddon(_ context.Context, in *eks.DeleteAddonInput, _ ...func(*eks.Options)) (*eks.DeleteAddonOutput, error) {
	f.calls = append(f.calls, "DeleteAddon")
	key := awssdk.ToString(in.ClusterName) + "/" + awssdk.ToString(in.AddonName)
	if _, ok := f.addons[key]; !ok {
		return nil, notFound("addon not found")
	}
	delete(f.addons, key)
	return &eks.DeleteAddonOutput{}, nil
}

func (f *fakeEKS) TagResource(_ context.Context, in *eks.TagResourceInput, _ ...func(*eks.Options)) (*eks.TagResourceOutput, error) {
	f.calls = append(f.calls, "TagResource")
	arn := awssdk.ToString(in.ResourceArn)
	if f.tags[arn] == nil {
		f.tags[arn] = tags.Set{}
	}
	for k, v := range in.Tags {
		f.tags[arn][k] = v
	}
	return &eks.TagResourceOutput{}, nil
}

func (f *fakeEKS) UntagResource(_ context.Context, in *eks.UntagResourceInput, _ ...func(*eks.Options)) (*eks.UntagResourceOutput, error) {
	f.calls = append(f.calls, "UntagResource")
	for _, k := range in.TagKeys {
		delete(f.tags[awssdk.ToString(in.ResourceArn)], k)
	}
	return &eks.UntagResourceOutput{}, nil
}

func (f *fakeEKS) ListTagsForResource(_ context.Context, in *eks.ListTagsForResourceInput, _ ...func(*eks.Options)) (*eks.ListTagsForResourceOutput, error) {
	return &eks.ListTagsForResourceOutput{Tags: f.tags[awssdk.ToString(in.ResourceArn)]}, nil
}

// ListClusters returns one cluster per page.
func (f *fakeEKS) ListClusters(_ context.Context, in *eks.ListClustersInput, _ ...func(*eks.Options)) (*eks.ListClustersOutput, error) {
	f.calls = append(f.calls, "ListClusters")
	names := make([]string, 0, len(f.clusters))
	for n := range f.clusters {
		names = append(names, n)
	}
	slices.Sort(names)
	start := 0
	if in.NextToken != nil {
		for i, n := range names {
			if n == *in.NextToken {
				start = i
			}
		}
	}
	out := &eks.ListClustersOutput{}
	if start < len(names) {
		out.Clusters = names[start : start+1]
	}
	if start+1 < len(names) {
		out.NextToken = awssdk.String(names[start+1])
	}
	return out, nil
}

func newCluster(t *testing.T, p *Provider, props map[string]any) *Cluster {
	t.Helper()
	m, err := p.buildCluster(props, resource.MapResolver{})
	require.NoError(t, err)
	return m.(*Cluster)
}

var clusterProps = map[string]any{
	"name":       "prod",
	"role_arn":   "arn:aws:iam::123456789012:role/eks",
	"subnet_ids": []string{"subnet-a", "subnet-b"},
	"tags":       map[string]string{"Env": "prod"},
}

func TestCluster_Create(t *testing.T) {
	p := testProvider()
	api := newFakeEKS()
	p.EKS = api
	c := newCluster(t, p, clusterProps)

	s := &saves{}
	require.NoError(t, resource.Create(context.Background(), c, discard, s))

	assert.Equal(t, "arn:aws:eks:us-east-1:123456789012:cluster/prod", c.ARN)
	assert.Equal(t, string(types.ClusterStatusActive), c.Status)
	assert.Equal(t, "1.30", c.Version)
	assert.Equal(t, tags.Set{"Env": "prod"}, api.tags[c.ARN])
	// Once after the ARN is known, once when Create returns, once after tagging.
	assert.Equal(t, 3, s.n)
	assert.Equal(t, "CreateCluster", api.calls[0])
	assert.Equal(t, "TagResource", api.calls[len(api.calls)-1])
}

func TestCluster_BuildValidation(t *testing.T) {
	p := testProvider()
	tests := []struct {
		name  string
		props map[string]any
		want  string
	}{
		{
			name:  "missing role",
			props: map[string]any{"name": "a", "subnet_ids": []string{"s1", "s2"}},
			want:  "role_arn: is required",
		},
		{
			name:  "one subnet",
			props: map[string]any{"name": "a", "role_arn": "r", "subnet_ids": []string{"s1"}},
			want:  "subnet_ids: must be at least 2",
		},
		{
			name: "bad log type",
			props: map[string]any{
				"name": "a", "role_arn": "r", "subnet_ids": []string{"s1", "s2"},
				"enabled_log_types": []string{"api", "kubelet"},
			},
			want: `enabled_log_types: "kubelet" is not one of`,
		},
		{
			name:  "unknown key",
			props: map[string]any{"name": "a", "role_arn": "r", "subnet_ids": []string{"s1", "s2"}, "size": 3},
			want:  `unknown field "size"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.buildCluster(tt.props, resource.MapResolver{})
			require.Error(t, err)
			assert.True(t, errdefs.IsConfiguration(err))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestCluster_UpdateVersionAndLogging(t *testing.T) {
	p := testProvider()
	api := newFakeEKS()
	p.EKS = api
	c := newCluster(t, p, clusterProps)
	require.NoError(t, resource.Create(context.Background(), c, discard, &saves{}))
	api.calls = nil

	next := newCluster(t, p, clusterProps)
	next.Version = "1.31"
	next.EnabledLogTypes = []string{"audit"}
	next.ARN = c.ARN

	changed, err := resource.Changed(c, next)
	require.NoError(t, err)
	assert.Equal(t, []string{"enabled_log_types", "version"}, changed.Names())
	assert.Empty(t, resource.ReplacementFields(next, changed))

	require.NoError(t, resource.Update(context.Background(), next, discard, &saves{}, c, changed))
	assert.Equal(t, []string{"UpdateClusterVersion", "DescribeUpdate", "UpdateClusterConfig", "DescribeUpdate"}, api.calls)
	assert.Equal(t, []string{"u-version", "u-config"}, api.updates)

	logging := api.clusters["prod"].Logging.ClusterLogging
	require.Len(t, logging, 2)
	assert.True(t, *logging[0].Enabled)
	assert.Equal(t, []types.LogType{"audit"}, logging[0].Types)
	assert.False(t, *logging[1].Enabled)
	assert.Len(t, logging[1].Types, 4)
}

func TestCluster_RefreshNotFound(t *testing.T) {
	p := testProvider()
	p.EKS = newFakeEKS()
	c := newCluster(t, p, clusterProps)

	found, err := resource.Refresh(context.Background(), c)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, c.ARN)
}

func TestCluster_Delete(t *testing.T) {
	p := testProvider()
	api := newFakeEKS()
	p.EKS = api
	c := newCluster(t, p, clusterProps)
	require.NoError(t, resource.Create(context.Background(), c, discard, &saves{}))

	require.NoError(t, resource.Delete(context.Background(), c, discard))
	assert.Empty(t, api.clusters)

	// Deleting again is not an error.
	require.NoError(t, resource.Delete(context.Background(), c, discard))
}

func TestClusterFinder(t *testing.T) {
	p := testProvider()
	api := newFakeEKS()
	p.EKS = api
	for _, name := range []string{"a", "b", "c"} {
		_, err := api.CreateCluster(context.Background(), &eks.CreateClusterInput{
			Name:               awssdk.String(name),
			RoleArn:            awssdk.String("role"),
			ResourcesVpcConfig: &types.VpcConfigRequest{},
		})
		require.NoError(t, err)
	}

	all, err := ClusterFinder{p}.FindAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[2].Name)
	assert.Equal(t, "role", all[2].RoleARN)

	one, err := ClusterFinder{p}.Find(context.Background(), map[string]string{"name": "b"})
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "b", one[0].ID())

	none, err := ClusterFinder{p}.Find(context.Background(), map[string]string{"name": "missing"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAddon_ParentCluster(t *testing.T) {
	p := testProvider()
	api := newFakeEKS()
	p.EKS = api
	c := newCluster(t, p, clusterProps)
	refs := resource.MapResolver{"cluster": c}

	_, err := p.buildAddon(map[string]any{"name": "vpc-cni", "cluster": "nope"}, refs)
	assert.ErrorContains(t, err, `cluster: no resource named "nope"`)

	m, err := p.buildAddon(map[string]any{"name": "vpc-cni", "cluster": "cluster", "resolve_conflicts": "OVERWRITE"}, refs)
	require.NoError(t, err)
	a := m.(*Addon)
	assert.Equal(t, "prod", a.ClusterName)
	assert.Equal(t, "prod:vpc-cni", a.ID())

	require.NoError(t, resource.Create(context.Background(), a, discard, &saves{}))
	assert.Equal(t, "v1.0.0-eksbuild.1", a.AddonVersion)
	assert.Equal(t, string(types.AddonStatusActive), a.Status)

	require.NoError(t, resource.Delete(context.Background(), a, discard))
	assert.Empty(t, api.addons)
}

func TestCluster_WaitActive(t *testing.T) {
	p := &Provider{Wait: wait.Options{Timeout: 50 * time.Millisecond, Interval: 5 * time.Millisecond}}
	api := newFakeEKS()
	p.EKS = api
	c := newCluster(t, p, clusterProps)

	t.Run("stuck pending times out", func(t *testing.T) {
		api.clusters["prod"] = &types.Cluster{Name: awssdk.String("prod"), Status: types.ClusterStatusPending}
		err := c.waitActive(context.Background())
		require.Error(t, err)
		assert.True(t, errdefs.IsTimeout(err))
		assert.ErrorContains(t, err, "waiting for EKS cluster prod")
		assert.Greater(t, api.describe["prod"], 1)
	})

	t.Run("failed status stops the wait", func(t *testing.T) {
		api.clusters["prod"] = &types.Cluster{Name: awssdk.String("prod"), Status: types.ClusterStatusFailed}
		api.describe["prod"] = 0
		err := c.waitActive(context.Background())
		require.Error(t, err)
		assert.False(t, errdefs.IsTimeout(err))
		assert.ErrorContains(t, err, "failed waiting for EKS cluster prod")
		assert.Equal(t, 1, api.describe["prod"])
	})
}

func TestAddon_WrongParentType(t *testing.T) {
	p := testProvider()
	g := &LogGroup{Name: "lg", p: p}
	_, err := p.buildAddon(map[string]any{"name": "vpc-cni", "cluster": "logs"}, resource.MapResolver{"logs": g})
	assert.ErrorContains(t, err, `"logs" is a aws:CloudWatch.LogGroup`)
}

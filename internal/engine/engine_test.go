package engine

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/picklr-aws/internal/ir"
	"github.com/picklr-io/picklr-aws/internal/resource"
	"github.com/picklr-io/picklr-aws/providers/null"
)

// memWriter keeps state in memory and counts writes.
type memWriter struct {
	writes int
	err    error
}

func (m *memWriter) Write(_ context.Context, _ *ir.State) error {
	m.writes++
	return m.err
}

func testEngine(t *testing.T) (*Engine, *null.Store) {
	t.Helper()
	store := null.NewStore()
	reg := resource.NewRegistry()
	null.New(store).Register(reg)
	eng := NewEngine(reg, t.TempDir())
	eng.UI = resource.WriterUI{W: io.Discard}
	return eng, store
}

func nullResource(name string, props map[string]any) *ir.Resource {
	return &ir.Resource{Type: null.TypeResource, Name: name, Properties: props}
}

func addresses(plan *ir.Plan) []string {
	var out []string
	for _, c := range plan.Changes {
		out = append(out, c.Address)
	}
	return out
}

func TestEngine_CreatePlan(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			nullResource("test1", map[string]any{"triggers": map[string]any{"a": "b"}}),
		},
	}
	state := &ir.State{Lineage: "l1"}

	// 1. Plan creation (new resource)
	plan, err := eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, ir.ActionCreate, plan.Changes[0].Action)
	assert.Equal(t, "null:Resource.test1", plan.Changes[0].Address)
	assert.Equal(t, "l1", plan.Metadata.Lineage)
	assert.NotEmpty(t, plan.Metadata.Timestamp)

	require.NoError(t, eng.ApplyPlan(ctx, plan, state, &memWriter{}))
	require.Len(t, state.Resources, 1)
	assert.Equal(t, "null-1", state.Resources[0].ID)

	// 2. Plan again (no-op)
	plan, err = eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, ir.ActionNoop, plan.Changes[0].Action)
	assert.Empty(t, plan.Changes[0].Changed)
	assert.Equal(t, 1, plan.Summary.NoOp)

	// 3. Plan update (note is updatable)
	cfg.Resources[0].Properties["note"] = "hello"
	plan, err = eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)
	assert.Equal(t, ir.ActionUpdate, plan.Changes[0].Action)
	assert.Equal(t, []string{"note"}, plan.Changes[0].Changed)
	assert.Equal(t, 1, plan.Summary.Update)

	// 4. Plan replace (triggers are not)
	cfg.Resources[0].Properties["triggers"] = map[string]any{"a": "c"}
	plan, err = eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)
	assert.Equal(t, ir.ActionReplace, plan.Changes[0].Action)
	assert.Equal(t, []string{"note", "triggers"}, plan.Changes[0].Changed)
	assert.Equal(t, []string{"triggers"}, plan.Changes[0].ForcesReplacement)
}

func TestEngine_CreatePlan_Delete(t *testing.T) {
	eng, _ := testEngine(t)

	state := &ir.State{
		Resources: []*ir.ResourceState{
			{Type: null.TypeResource, Name: "old", ID: "null-9", Attributes: map[string]any{"id": "null-9"}},
		},
	}

	plan, err := eng.CreatePlan(context.Background(), &ir.Config{}, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, ir.ActionDelete, plan.Changes[0].Action)
	assert.Equal(t, "null:Resource.old", plan.Changes[0].Address)
	assert.Equal(t, 1, plan.Summary.Delete)
}

func TestEngine_CreatePlan_PreventDestroy(t *testing.T) {
	eng, _ := testEngine(t)

	res := nullResource("protected", map[string]any{"triggers": map[string]any{"a": "new_value"}})
	res.Lifecycle = &ir.Lifecycle{PreventDestroy: true}
	state := &ir.State{
		Resources: []*ir.ResourceState{
			{
				Type: null.TypeResource,
				Name: "protected",
				ID:   "null-1",
				Attributes: map[string]any{
					"id":       "null-1",
					"triggers": map[string]any{"a": "old_value"},
				},
			},
		},
	}

	_, err := eng.CreatePlan(context.Background(), &ir.Config{Resources: []*ir.Resource{res}}, state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prevent-destroy set but changing [triggers] requires replacement")

	_, err = eng.PlanDestroy(&ir.Config{Resources: []*ir.Resource{res}}, state)
	assert.ErrorContains(t, err, "resource null:Resource.protected has prevent-destroy set")
}

func TestEngine_CreatePlan_IgnoreChanges(t *testing.T) {
	eng, _ := testEngine(t)

	res := nullResource("ignored", map[string]any{
		"triggers": map[string]any{"a": "new_value"},
		"note":     "new",
	})
	res.Lifecycle = &ir.Lifecycle{IgnoreChanges: []string{"triggers"}}
	state := &ir.State{
		Resources: []*ir.ResourceState{
			{
				Type: null.TypeResource,
				Name: "ignored",
				ID:   "null-1",
				Attributes: map[string]any{
					"id":       "null-1",
					"triggers": map[string]any{"a": "old_value"},
				},
			},
		},
	}

	plan, err := eng.CreatePlan(context.Background(), &ir.Config{Resources: []*ir.Resource{res}}, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, ir.ActionUpdate, plan.Changes[0].Action)
	assert.Equal(t, []string{"note"}, plan.Changes[0].Changed)

	res.Lifecycle.IgnoreChanges = append(res.Lifecycle.IgnoreChanges, "note")
	plan, err = eng.CreatePlan(context.Background(), &ir.Config{Resources: []*ir.Resource{res}}, state)
	require.NoError(t, err)
	assert.Equal(t, ir.ActionNoop, plan.Changes[0].Action)
}

func TestEngine_CreatePlan_DependencyOrder(t *testing.T) {
	eng, _ := testEngine(t)

	second := nullResource("second", nil)
	second.DependsOn = []string{"first"}
	cfg := &ir.Config{
		Resources: []*ir.Resource{
			nullResource("child", map[string]any{"parent": "base"}),
			second,
			nullResource("base", nil),
			nullResource("first", nil),
		},
	}

	plan, err := eng.CreatePlan(context.Background(), cfg, &ir.State{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"null:Resource.base",
		"null:Resource.child",
		"null:Resource.first",
		"null:Resource.second",
	}, addresses(plan))
	assert.Equal(t, []string{"base"}, plan.Changes[1].Dependencies)
	assert.Equal(t, []string{"first"}, plan.Changes[3].Dependencies)
}

func TestEngine_CreatePlan_Cycle(t *testing.T) {
	eng, _ := testEngine(t)

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			nullResource("a", map[string]any{"parent": "b"}),
			nullResource("b", map[string]any{"parent": "a"}),
			nullResource("c", nil),
		},
	}
	_, err := eng.CreatePlan(context.Background(), cfg, &ir.State{})
	assert.ErrorContains(t, err, "dependency cycle detected among resources: a, b")
}

func TestEngine_CreatePlan_BadReference(t *testing.T) {
	eng, _ := testEngine(t)

	cfg := &ir.Config{
		Resources: []*ir.Resource{nullResource("a", map[string]any{"parent": "nowhere"})},
	}
	_, err := eng.CreatePlan(context.Background(), cfg, &ir.State{})
	assert.ErrorContains(t, err, `null:Resource.a: invalid configuration: parent: no resource named "nowhere"`)
}

func TestEngine_CreatePlan_Targets(t *testing.T) {
	eng, _ := testEngine(t)

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			nullResource("a", nil),
			nullResource("b", map[string]any{"parent": "a"}),
			nullResource("c", nil),
		},
	}
	state := &ir.State{
		Resources: []*ir.ResourceState{
			{Type: null.TypeResource, Name: "old", ID: "null-9", Attributes: map[string]any{"id": "null-9"}},
		},
	}

	plan, err := eng.CreatePlanWithTargets(context.Background(), cfg, state, []string{"b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"null:Resource.a", "null:Resource.b"}, addresses(plan))

	plan, err = eng.CreatePlanWithTargets(context.Background(), cfg, state, []string{"null:Resource.old"})
	require.NoError(t, err)
	assert.Equal(t, []string{"null:Resource.old"}, addresses(plan))

	_, err = eng.CreatePlanWithTargets(context.Background(), cfg, state, []string{"zzz"})
	assert.ErrorContains(t, err, "target zzz matches no resource")
}

func TestNormalizeValue(t *testing.T) {
	in := map[string]any{
		"a": map[any]any{"b": []any{map[any]any{1: "x"}}},
	}
	want := map[string]any{
		"a": map[string]any{"b": []any{map[string]any{"1": "x"}}},
	}
	assert.Equal(t, want, normalizeValue(in))
}

func TestEngine_Graph(t *testing.T) {
	eng, _ := testEngine(t)

	dag, err := eng.Graph(&ir.Config{
		Resources: []*ir.Resource{
			nullResource("child", map[string]any{"parent": "base"}),
			nullResource("base", nil),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"base", "child"}, dag.CreationOrder())

	_, err = eng.Graph(&ir.Config{
		Resources: []*ir.Resource{nullResource("a", map[string]any{"bogus": true})},
	})
	assert.ErrorContains(t, err, `unknown field "bogus"`)
}

func TestEngine_Import(t *testing.T) {
	eng, _ := testEngine(t)
	state := &ir.State{}
	require.NoError(t, applyConfig(t, eng, &ir.Config{
		Resources: []*ir.Resource{nullResource("a", map[string]any{"note": "x"})},
	}, state))

	finder, err := eng.registry.Finder(null.TypeResource)
	require.NoError(t, err)
	found, err := finder.FindAll(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 1)

	// The same remote resource adopted under a second name.
	require.NoError(t, eng.Import(state, "copy", found[0]))
	rs, ok := state.Find("null:Resource.copy")
	require.True(t, ok)
	assert.Equal(t, "null-1", rs.ID)
	assert.Equal(t, "x", rs.Attributes["note"])

	err = eng.Import(state, "a", found[0])
	assert.ErrorContains(t, err, "resource null:Resource.a already exists in state")
}

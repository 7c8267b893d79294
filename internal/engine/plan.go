package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/picklr-io/picklr-aws/internal/ir"
	"github.com/picklr-io/picklr-aws/internal/logging"
	"github.com/picklr-io/picklr-aws/internal/resource"
)

const defaultParallelism = 10

// Engine orchestrates the lifecycle of resources.
type Engine struct {
	registry *resource.Registry
	// baseDir anchors relative file references in resource properties.
	baseDir string

	UI              resource.UI
	ContinueOnError bool // If true, apply continues past failures instead of stopping
	Parallelism     int
}

func NewEngine(registry *resource.Registry, baseDir string) *Engine {
	return &Engine{
		registry:    registry,
		baseDir:     baseDir,
		UI:          resource.WriterUI{W: os.Stdout},
		Parallelism: defaultParallelism,
	}
}

// CreatePlan generates an execution plan by comparing desired config with current state.
func (e *Engine) CreatePlan(ctx context.Context, cfg *ir.Config, state *ir.State) (*ir.Plan, error) {
	return e.CreatePlanWithTargets(ctx, cfg, state, nil)
}

// CreatePlanWithTargets generates a plan limited to the targeted resources
// and everything they depend on. Targets are names or addresses. If targets
// is empty, all resources are planned.
func (e *Engine) CreatePlanWithTargets(_ context.Context, cfg *ir.Config, state *ir.State, targets []string) (*ir.Plan, error) {
	logging.Debug("creating plan", "resources", len(cfg.Resources), "state_resources", len(state.Resources), "targets", len(targets))
	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
			Lineage:     state.Lineage,
			StateSerial: state.Serial,
		},
		Changes: []*ir.ResourceChange{},
		Summary: &ir.PlanSummary{},
	}

	// 1. Restore the recorded snapshots
	priors, err := e.restore(state)
	if err != nil {
		return nil, err
	}

	// 2. Build desired resources, discovering references as we go
	desired, deps, err := e.buildDesired(cfg.Resources, priors, state)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(cfg.Resources))
	byName := make(map[string]*ir.Resource, len(cfg.Resources))
	for _, res := range cfg.Resources {
		names = append(names, res.Name)
		byName[res.Name] = res
	}
	dag, err := NewDAG(names, deps)
	if err != nil {
		return nil, err
	}

	// 3. Resolve targets, pulling in their dependencies
	targetSet, err := resolveTargets(targets, cfg, state, dag)
	if err != nil {
		return nil, err
	}

	// 4. Diff desired resources in dependency order
	for _, name := range dag.CreationOrder() {
		if targetSet != nil && !targetSet[name] {
			continue
		}
		res := byName[name]
		prior, _ := state.Find(res.Address())
		change, err := planResource(res, desired[name], priors[name], prior)
		if err != nil {
			return nil, err
		}
		change.Dependencies = dag.Dependencies(name)
		plan.Changes = append(plan.Changes, change)
		plan.Summary.Count(change.Action)
	}

	// 5. Handle deletions (resources in state but not in config)
	stateDAG, err := stateGraph(state)
	if err != nil {
		return nil, err
	}
	for _, name := range stateDAG.DestructionOrder() {
		if _, ok := byName[name]; ok {
			continue
		}
		if targetSet != nil && !targetSet[name] {
			continue
		}
		rs := stateByName(state, name)
		plan.Changes = append(plan.Changes, &ir.ResourceChange{
			Address:      rs.Address(),
			Action:       ir.ActionDelete,
			Prior:        rs,
			Dependencies: rs.Dependencies,
		})
		plan.Summary.Count(ir.ActionDelete)
	}

	return plan, nil
}

// PlanDestroy plans the deletion of every resource in state, dependents
// first. Resources the configuration protects with prevent-destroy stop
// the plan.
func (e *Engine) PlanDestroy(cfg *ir.Config, state *ir.State) (*ir.Plan, error) {
	protected := map[string]bool{}
	if cfg != nil {
		for _, res := range cfg.Resources {
			if res.Lifecycle != nil && res.Lifecycle.PreventDestroy {
				protected[res.Address()] = true
			}
		}
	}

	dag, err := stateGraph(state)
	if err != nil {
		return nil, err
	}
	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
			Lineage:     state.Lineage,
			StateSerial: state.Serial,
		},
		Changes: []*ir.ResourceChange{},
		Summary: &ir.PlanSummary{},
	}
	for _, name := range dag.DestructionOrder() {
		rs := stateByName(state, name)
		if protected[rs.Address()] {
			return nil, fmt.Errorf("resource %s has prevent-destroy set and cannot be destroyed", rs.Address())
		}
		plan.Changes = append(plan.Changes, &ir.ResourceChange{
			Address:      rs.Address(),
			Action:       ir.ActionDelete,
			Prior:        rs,
			Dependencies: rs.Dependencies,
		})
		plan.Summary.Count(ir.ActionDelete)
	}
	return plan, nil
}

// Graph builds every configured resource without consulting state and
// returns their dependency graph. Invalid properties and broken references
// surface here.
func (e *Engine) Graph(cfg *ir.Config) (*DAG, error) {
	_, deps, err := e.buildDesired(cfg.Resources, nil, nil)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(cfg.Resources))
	for i, res := range cfg.Resources {
		names[i] = res.Name
	}
	return NewDAG(names, deps)
}

// planResource decides what apply has to do with one configured resource.
// desired has already inherited the outputs of prior.
func planResource(res *ir.Resource, desired, prior resource.Managed, priorState *ir.ResourceState) (*ir.ResourceChange, error) {
	addr := res.Address()
	change := &ir.ResourceChange{Address: addr, Desired: res, Prior: priorState}
	if prior == nil {
		change.Action = ir.ActionCreate
		return change, nil
	}

	changed, err := resource.Changed(prior, desired)
	if err != nil {
		return nil, fmt.Errorf("failed to diff %s: %w", addr, err)
	}
	if res.Lifecycle != nil {
		changed = changed.Without(res.Lifecycle.IgnoreChanges...)
	}
	change.Changed = changed.Names()

	replace := resource.ReplacementFields(desired, changed)
	switch {
	case len(changed) == 0:
		change.Action = ir.ActionNoop
	case len(replace) > 0:
		if res.Lifecycle != nil && res.Lifecycle.PreventDestroy {
			return nil, fmt.Errorf("resource %s has prevent-destroy set but changing [%s] requires replacement", addr, strings.Join(replace, ", "))
		}
		change.Action = ir.ActionReplace
		change.ForcesReplacement = replace
	default:
		change.Action = ir.ActionUpdate
	}
	return change, nil
}

// recorder resolves names against the resources built so far and remembers
// every name it was asked for.
type recorder struct {
	built  resource.MapResolver
	lookup []string
}

func (r *recorder) Lookup(name string) (resource.Managed, bool) {
	r.lookup = append(r.lookup, name)
	return r.built.Lookup(name)
}

// buildDesired builds every configured resource. A resource whose
// references are not built yet is retried after them, so the configuration
// may list resources in any order. The names each resource looked up,
// together with its depends-on list, become its dependencies.
func (e *Engine) buildDesired(resources []*ir.Resource, priors map[string]resource.Managed, state *ir.State) (map[string]resource.Managed, map[string][]string, error) {
	configured := make(map[string]bool, len(resources))
	for _, res := range resources {
		configured[res.Name] = true
	}

	built := resource.MapResolver{}
	deps := make(map[string][]string, len(resources))
	pending := slices.Clone(resources)
	for len(pending) > 0 {
		var deferred []*ir.Resource
		for _, res := range pending {
			if slices.ContainsFunc(res.DependsOn, func(d string) bool { _, ok := built[d]; return !ok }) {
				deferred = append(deferred, res)
				continue
			}

			rec := &recorder{built: built}
			m, err := e.buildResource(res, rec)
			if err != nil {
				if slices.ContainsFunc(rec.lookup, func(n string) bool { _, ok := built[n]; return configured[n] && !ok }) {
					deferred = append(deferred, res)
					continue
				}
				return nil, nil, fmt.Errorf("%s: %w", res.Address(), err)
			}

			if prior, ok := priors[res.Name]; ok {
				if prior.Type() != res.Type {
					rs := stateByName(state, res.Name)
					return nil, nil, fmt.Errorf("%s: state already holds %s under the same name; destroy it or rename the resource", res.Address(), rs.Address())
				}
				if err := resource.Inherit(m, prior); err != nil {
					return nil, nil, fmt.Errorf("%s: %w", res.Address(), err)
				}
			}

			built[res.Name] = m
			var resDeps []string
			for _, n := range append(slices.Clone(res.DependsOn), rec.lookup...) {
				if configured[n] && n != res.Name && !slices.Contains(resDeps, n) {
					resDeps = append(resDeps, n)
				}
			}
			deps[res.Name] = resDeps
		}

		if len(deferred) == len(pending) {
			stuck := make([]string, len(deferred))
			for i, res := range deferred {
				stuck[i] = res.Name
			}
			return nil, nil, fmt.Errorf("dependency cycle detected among resources: %s", strings.Join(stuck, ", "))
		}
		pending = deferred
	}
	return built, deps, nil
}

// buildResource turns a configured resource into its typed form, with file
// references replaced by their contents.
func (e *Engine) buildResource(res *ir.Resource, refs resource.Resolver) (resource.Managed, error) {
	props, _ := normalizeValue(res.Properties).(map[string]any)
	m, err := e.registry.Build(res.Type, props, refs)
	if err != nil {
		return nil, err
	}
	if err := resource.ResolveFiles(m, e.baseDir); err != nil {
		return nil, err
	}
	return m, nil
}

// restore rebuilds the resources recorded in state, dependencies first.
func (e *Engine) restore(state *ir.State) (map[string]resource.Managed, error) {
	dag, err := stateGraph(state)
	if err != nil {
		return nil, err
	}
	out := resource.MapResolver{}
	for _, name := range dag.CreationOrder() {
		rs := stateByName(state, name)
		m, err := e.registry.Build(rs.Type, rs.Attributes, out)
		if err != nil {
			return nil, fmt.Errorf("failed to restore %s from state: %w", rs.Address(), err)
		}
		out[name] = m
	}
	return out, nil
}

// snapshot records r as state. Attributes are the JSON form of the resource.
func snapshot(name string, r resource.Managed, deps []string) (*ir.ResourceState, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	var attrs map[string]any
	if err := json.Unmarshal(b, &attrs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", name, err)
	}
	return &ir.ResourceState{
		Type:         r.Type(),
		Name:         name,
		ID:           r.ID(),
		Attributes:   attrs,
		Dependencies: deps,
	}, nil
}

func stateGraph(state *ir.State) (*DAG, error) {
	names := make([]string, 0, len(state.Resources))
	deps := make(map[string][]string, len(state.Resources))
	for _, rs := range state.Resources {
		names = append(names, rs.Name)
		deps[rs.Name] = rs.Dependencies
	}
	return NewDAG(names, deps)
}

func stateByName(state *ir.State, name string) *ir.ResourceState {
	for _, rs := range state.Resources {
		if rs.Name == name {
			return rs
		}
	}
	return nil
}

func resolveTargets(targets []string, cfg *ir.Config, state *ir.State, dag *DAG) (map[string]bool, error) {
	if len(targets) == 0 {
		return nil, nil
	}
	set := map[string]bool{}
	for _, t := range targets {
		name, ok := targetName(t, cfg, state)
		if !ok {
			return nil, fmt.Errorf("target %s matches no resource", t)
		}
		set[name] = true
		for _, dep := range dag.TransitiveDeps(name) {
			set[dep] = true
		}
	}
	return set, nil
}

func targetName(t string, cfg *ir.Config, state *ir.State) (string, bool) {
	for _, res := range cfg.Resources {
		if t == res.Name || t == res.Address() {
			return res.Name, true
		}
	}
	for _, rs := range state.Resources {
		if t == rs.Name || t == rs.Address() {
			return rs.Name, true
		}
	}
	return "", false
}

// normalizeValue converts the map[any]any values some decoders produce
// into map[string]any, recursively.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[any]any:
		newMap := make(map[string]any)
		for k, v := range val {
			newMap[fmt.Sprintf("%v", k)] = normalizeValue(v)
		}
		return newMap
	case map[string]any:
		newMap := make(map[string]any)
		for k, v := range val {
			newMap[k] = normalizeValue(v)
		}
		return newMap
	case []any:
		newSlice := make([]any, len(val))
		for i, v := range val {
			newSlice[i] = normalizeValue(v)
		}
		return newSlice
	default:
		return val
	}
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/picklr-io/picklr-aws/internal/ir"
	"github.com/picklr-io/picklr-aws/internal/logging"
	"github.com/picklr-io/picklr-aws/internal/resource"
)

// ApplyEvent represents a progress event during apply.
type ApplyEvent struct {
	Address  string
	Action   ir.Action
	Status   string // "started", "completed", "failed", "skipped"
	Duration time.Duration
	Error    error
}

// ApplyCallback is called for each apply event if set.
type ApplyCallback func(event ApplyEvent)

// StateWriter persists state. Apply writes after every side effect, so an
// interrupted run still records what it created.
type StateWriter interface {
	Write(ctx context.Context, state *ir.State) error
}

// ApplyPlan executes a plan and updates the state.
func (e *Engine) ApplyPlan(ctx context.Context, plan *ir.Plan, state *ir.State, w StateWriter) error {
	return e.ApplyPlanWithCallback(ctx, plan, state, w, nil)
}

// ApplyPlanWithCallback executes a plan with progress event callbacks.
// Creates and updates run first, in parallel where the dependency order
// allows, then deletes in reverse order. If e.ContinueOnError is true,
// apply continues past individual failures, skips whatever depends on a
// failed resource, and returns an aggregated error at the end.
func (e *Engine) ApplyPlanWithCallback(ctx context.Context, plan *ir.Plan, state *ir.State, w StateWriter, callback ApplyCallback) error {
	m := plan.Metadata
	if m != nil && m.StateSerial == 0 && state.Serial == 0 && len(state.Resources) == 0 {
		// Nothing has been written yet, so each read of the missing state
		// starts a lineage of its own. Continue the plan's.
		state.Lineage = m.Lineage
	}
	if m != nil && (m.Lineage != state.Lineage || m.StateSerial != state.Serial) {
		return fmt.Errorf("plan is stale: it was made against state %s serial %d, current state is %s serial %d",
			m.Lineage, m.StateSerial, state.Lineage, state.Serial)
	}

	live, err := e.restore(state)
	if err != nil {
		return err
	}
	run := &applyRun{e: e, state: state, w: w, live: live, failed: map[string]bool{}, callback: callback}

	var createUpdates, deletes []*ir.ResourceChange
	for _, change := range plan.Changes {
		switch change.Action {
		case ir.ActionNoop:
		case ir.ActionDelete:
			deletes = append(deletes, change)
		default:
			createUpdates = append(createUpdates, change)
		}
	}

	var errs []error
	if err := run.execute(ctx, createUpdates, func(c *ir.ResourceChange) []string { return c.Dependencies }); err != nil {
		if !e.ContinueOnError {
			return err
		}
		errs = append(errs, err)
	}

	// A resource is deleted once everything that depends on it is gone.
	dependents := map[string][]string{}
	for _, c := range deletes {
		for _, dep := range c.Dependencies {
			dependents[dep] = append(dependents[dep], c.Name())
		}
	}
	if err := run.execute(ctx, deletes, func(c *ir.ResourceChange) []string { return dependents[c.Name()] }); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

type applyRun struct {
	e        *Engine
	w        StateWriter
	callback ApplyCallback

	mu     sync.Mutex
	state  *ir.State
	live   map[string]resource.Managed
	failed map[string]bool
	stop   bool
}

func (r *applyRun) emit(event ApplyEvent) {
	if r.callback != nil {
		r.callback(event)
	}
}

// execute applies changes, each after the changes named by waitFor. changes
// must already be ordered so that nothing waits on a later change.
func (r *applyRun) execute(ctx context.Context, changes []*ir.ResourceChange, waitFor func(*ir.ResourceChange) []string) error {
	done := make(map[string]chan struct{}, len(changes))
	for _, c := range changes {
		done[c.Name()] = make(chan struct{})
	}

	var (
		errMu sync.Mutex
		errs  []error
	)
	fail := func(err error) {
		errMu.Lock()
		errs = append(errs, err)
		errMu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(max(r.e.Parallelism, 1))
	for _, change := range changes {
		g.Go(func() error {
			name := change.Name()
			defer close(done[name])

			deps := waitFor(change)
			for _, dep := range deps {
				if ch, ok := done[dep]; ok {
					select {
					case <-ch:
					case <-ctx.Done():
					}
				}
			}

			r.mu.Lock()
			skip := r.stop || slices.ContainsFunc(deps, func(d string) bool { return r.failed[d] })
			if skip {
				r.failed[name] = true
			}
			r.mu.Unlock()
			if skip {
				r.emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "skipped"})
				return nil
			}
			if err := ctx.Err(); err != nil {
				r.markFailed(name)
				fail(fmt.Errorf("apply cancelled: %w", err))
				return nil
			}

			start := time.Now()
			r.emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "started"})
			if err := r.applyChange(ctx, change); err != nil {
				err = fmt.Errorf("%s: %w", change.Address, err)
				r.emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "failed", Duration: time.Since(start), Error: err})
				r.markFailed(name)
				fail(err)
				return nil
			}
			r.emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "completed", Duration: time.Since(start)})
			return nil
		})
	}
	_ = g.Wait()

	switch {
	case len(errs) == 0:
		return nil
	case r.e.ContinueOnError:
		return fmt.Errorf("%d resource(s) failed: %w", len(errs), errors.Join(errs...))
	default:
		return errs[0]
	}
}

func (r *applyRun) markFailed(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[name] = true
	if !r.e.ContinueOnError {
		r.stop = true
	}
}

func (r *applyRun) applyChange(ctx context.Context, change *ir.ResourceChange) error {
	logging.Debug("applying change", "address", change.Address, "action", change.Action)
	ui := r.e.UI
	name := change.Name()
	prior := r.lookup(name)

	switch change.Action {
	case ir.ActionCreate:
		m, err := r.build(change.Desired)
		if err != nil {
			return err
		}
		if err := resource.Create(ctx, m, ui, r.checkpoint(ctx, name, m, change.Dependencies)); err != nil {
			return err
		}
		return r.commit(ctx, name, m, change.Dependencies)

	case ir.ActionUpdate:
		if prior == nil {
			return fmt.Errorf("no recorded state to update")
		}
		m, err := r.build(change.Desired)
		if err != nil {
			return err
		}
		if err := resource.Inherit(m, prior); err != nil {
			return err
		}
		changed, err := resource.Changed(prior, m)
		if err != nil {
			return err
		}
		if lc := change.Desired.Lifecycle; lc != nil {
			changed = changed.Without(lc.IgnoreChanges...)
		}
		if err := resource.Update(ctx, m, ui, r.checkpoint(ctx, name, m, change.Dependencies), prior, changed); err != nil {
			return err
		}
		return r.commit(ctx, name, m, change.Dependencies)

	case ir.ActionReplace:
		if prior == nil {
			return fmt.Errorf("no recorded state to replace")
		}
		if err := resource.Delete(ctx, prior, ui); err != nil {
			return err
		}
		if err := r.forget(ctx, name, change.Address); err != nil {
			return err
		}
		m, err := r.build(change.Desired)
		if err != nil {
			return err
		}
		// The replacement keeps computed values the old resource had.
		if err := resource.Inherit(m, prior); err != nil {
			return err
		}
		if err := resource.ClearOutputs(m); err != nil {
			return err
		}
		if err := resource.Create(ctx, m, ui, r.checkpoint(ctx, name, m, change.Dependencies)); err != nil {
			return err
		}
		return r.commit(ctx, name, m, change.Dependencies)

	case ir.ActionDelete:
		if prior == nil {
			return r.forget(ctx, name, change.Address)
		}
		if err := resource.Delete(ctx, prior, ui); err != nil {
			return err
		}
		return r.forget(ctx, name, change.Address)

	default:
		return fmt.Errorf("unknown action %q", change.Action)
	}
}

func (r *applyRun) lookup(name string) resource.Managed {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live[name]
}

// build constructs the desired resource against the resources applied so
// far, so references see their created identifiers.
func (r *applyRun) build(res *ir.Resource) (resource.Managed, error) {
	if res == nil {
		return nil, fmt.Errorf("change has no desired resource")
	}
	r.mu.Lock()
	refs := resource.MapResolver(maps.Clone(r.live))
	r.mu.Unlock()
	return r.e.buildResource(res, refs)
}

// checkpoint records m in state and writes it out.
func (r *applyRun) checkpoint(ctx context.Context, name string, m resource.Managed, deps []string) resource.Checkpointer {
	return resource.CheckpointFunc(func() error {
		rs, err := snapshot(name, m, deps)
		if err != nil {
			return err
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		r.state.Put(rs)
		return r.w.Write(ctx, r.state)
	})
}

// commit makes m visible to later changes and records its final form.
func (r *applyRun) commit(ctx context.Context, name string, m resource.Managed, deps []string) error {
	if err := r.checkpoint(ctx, name, m, deps).Save(); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	r.mu.Lock()
	r.live[name] = m
	r.mu.Unlock()
	return nil
}

func (r *applyRun) forget(ctx context.Context, name, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, name)
	r.state.Remove(addr)
	if err := r.w.Write(ctx, r.state); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

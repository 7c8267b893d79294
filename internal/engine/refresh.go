package engine

import (
	"context"
	"fmt"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/picklr-io/picklr-aws/internal/ir"
	"github.com/picklr-io/picklr-aws/internal/logging"
	"github.com/picklr-io/picklr-aws/internal/resource"
)

// RefreshResult lists the addresses whose snapshots a refresh changed.
type RefreshResult struct {
	Drifted []string
	Removed []string
}

// Refresh reads every resource in state from its service. Snapshots of
// resources that still exist are overwritten; resources that are gone are
// dropped. The caller persists the state.
func (e *Engine) Refresh(ctx context.Context, state *ir.State) (*RefreshResult, error) {
	live, err := e.restore(state)
	if err != nil {
		return nil, err
	}
	dag, err := stateGraph(state)
	if err != nil {
		return nil, err
	}

	result := &RefreshResult{}
	for _, name := range dag.CreationOrder() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("refresh cancelled: %w", err)
		}
		rs := stateByName(state, name)
		found, err := resource.Refresh(ctx, live[name])
		if err != nil {
			return nil, err
		}
		if !found {
			logging.Info("resource no longer exists", "address", rs.Address(), "id", rs.ID)
			state.Remove(rs.Address())
			result.Removed = append(result.Removed, rs.Address())
			continue
		}

		next, err := snapshot(name, live[name], rs.Dependencies)
		if err != nil {
			return nil, err
		}
		if !cmp.Equal(rs.Attributes, next.Attributes, cmpopts.EquateEmpty()) {
			logging.Debug("resource drifted", "address", rs.Address(), "diff", cmp.Diff(rs.Attributes, next.Attributes, cmpopts.EquateEmpty()))
			result.Drifted = append(result.Drifted, rs.Address())
		}
		state.Put(next)
	}
	return result, nil
}

// Import records an existing remote resource in state under name, as if
// apply had created it.
func (e *Engine) Import(state *ir.State, name string, r resource.Managed) error {
	if rs := stateByName(state, name); rs != nil {
		return fmt.Errorf("resource %s already exists in state", rs.Address())
	}
	rs, err := snapshot(name, r, nil)
	if err != nil {
		return err
	}
	state.Put(rs)
	return nil
}

// Destroy deletes every resource in state, dependents first.
func (e *Engine) Destroy(ctx context.Context, cfg *ir.Config, state *ir.State, w StateWriter) error {
	plan, err := e.PlanDestroy(cfg, state)
	if err != nil {
		return err
	}
	return e.ApplyPlan(ctx, plan, state, w)
}

// Package tags reconciles the tags of a remote resource with the desired set.
package tags

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/picklr-io/picklr-aws/internal/logging"
	"github.com/picklr-io/picklr-aws/internal/metrics"
)

// Set is a tag key to value mapping.
type Set map[string]string

// Clone returns a copy of s. A nil set clones to an empty one.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	maps.Copy(out, s)
	return out
}

// Diff is the minimal change turning one tag set into another.
type Diff struct {
	Add    Set
	Remove []string
}

// Empty reports whether applying d would issue no calls.
func (d Diff) Empty() bool {
	return len(d.Add) == 0 && len(d.Remove) == 0
}

// Reconcile computes the tags to write and the keys to drop so that current
// becomes desired. A key whose value changes is both dropped and written,
// so that Apply removes the old value before adding the new one.
func Reconcile(current, desired Set) Diff {
	d := Diff{Add: Set{}}
	for k, v := range desired {
		if cur, ok := current[k]; !ok || cur != v {
			d.Add[k] = v
		}
	}
	for k, v := range current {
		if want, ok := desired[k]; !ok || want != v {
			d.Remove = append(d.Remove, k)
		}
	}
	slices.Sort(d.Remove)
	return d
}

// Tagger issues the service-specific tag calls for one resource kind.
type Tagger interface {
	TagResource(ctx context.Context, id string, tags Set) error
	UntagResource(ctx context.Context, id string, keys []string) error
}

// Apply issues the removal call, then the add call, skipping either when it
// has nothing to send.
func Apply(ctx context.Context, t Tagger, id string, d Diff) error {
	if len(d.Remove) > 0 {
		logging.Debug("removing tags", "id", id, "keys", d.Remove)
		if err := t.UntagResource(ctx, id, d.Remove); err != nil {
			return fmt.Errorf("failed to remove tags from %s: %w", id, err)
		}
		metrics.TagMutations.WithLabelValues("remove").Inc()
	}
	if len(d.Add) > 0 {
		logging.Debug("adding tags", "id", id, "count", len(d.Add))
		if err := t.TagResource(ctx, id, d.Add); err != nil {
			return fmt.Errorf("failed to add tags to %s: %w", id, err)
		}
		metrics.TagMutations.WithLabelValues("add").Inc()
	}
	return nil
}

// Keys returns the sorted keys of s.
func (s Set) Keys() []string {
	return slices.Sorted(maps.Keys(s))
}

package resource

import (
	"context"
	"slices"
	"strings"

	"github.com/picklr-io/picklr-aws/internal/errdefs"
)

// Finder discovers existing remote resources of one type.
type Finder[T Managed] interface {
	FindAll(ctx context.Context) ([]T, error)
	Find(ctx context.Context, filters map[string]string) ([]T, error)
}

// AnyFinder is a Finder with the resource type erased.
type AnyFinder interface {
	FindAll(ctx context.Context) ([]Managed, error)
	Find(ctx context.Context, filters map[string]string) ([]Managed, error)
	// Filters lists the accepted filter keys.
	Filters() []string
}

type erased[T Managed] struct {
	f       Finder[T]
	filters []string
}

// Erase wraps a typed finder. filters lists the keys Find accepts.
func Erase[T Managed](f Finder[T], filters ...string) AnyFinder {
	return erased[T]{f: f, filters: filters}
}

func (e erased[T]) FindAll(ctx context.Context) ([]Managed, error) {
	found, err := e.f.FindAll(ctx)
	return toManaged(found), err
}

func (e erased[T]) Find(ctx context.Context, filters map[string]string) ([]Managed, error) {
	if err := CheckFilters(filters, e.filters...); err != nil {
		return nil, err
	}
	found, err := e.f.Find(ctx, filters)
	return toManaged(found), err
}

func (e erased[T]) Filters() []string { return slices.Clone(e.filters) }

func toManaged[T Managed](in []T) []Managed {
	out := make([]Managed, len(in))
	for i, r := range in {
		out[i] = r
	}
	return out
}

// CheckFilters rejects filter keys not in allowed.
func CheckFilters(filters map[string]string, allowed ...string) error {
	for k := range filters {
		if !slices.Contains(allowed, k) {
			if len(allowed) == 0 {
				return errdefs.Configf("filter", "unknown filter %q, this type accepts none", k)
			}
			return errdefs.Configf("filter", "unknown filter %q, valid filters are [%s]", k, strings.Join(allowed, ", "))
		}
	}
	return nil
}

// Filter keeps the items for which keep returns true.
func Filter[T any](items []T, keep func(T) bool) []T {
	var out []T
	for _, it := range items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

// Package resource defines the contract every managed AWS resource fulfils
// and the lifecycle template the engine drives them through.
package resource

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/picklr-io/picklr-aws/internal/tags"
)

// TagsField is the field name carrying a resource's tags.
const TagsField = "tags"

// UI receives progress messages for the user.
type UI interface {
	Printf(format string, args ...any)
}

// WriterUI prints progress to a writer.
type WriterUI struct{ W io.Writer }

func (u WriterUI) Printf(format string, args ...any) {
	if u.W != nil {
		fmt.Fprintf(u.W, format, args...)
	}
}

// Checkpointer persists the current resource snapshot so a later failure
// does not lose remote side effects already made.
type Checkpointer interface {
	Save() error
}

// CheckpointFunc adapts a function to Checkpointer.
type CheckpointFunc func() error

func (f CheckpointFunc) Save() error { return f() }

// Managed is implemented by every resource type. Implementations only issue
// the resource-specific calls; Create, Update, Delete and Refresh in this
// package add checkpoints, tag reconciliation and not-found handling.
type Managed interface {
	// Type is the resource type name, e.g. aws:EKS.Cluster.
	Type() string
	// ID is the remote identifier. Resources whose identifier is
	// assigned by the service return "" until created.
	ID() string
	// Read loads remote state into the receiver. It must leave the
	// receiver untouched unless it returns true.
	Read(ctx context.Context) (bool, error)
	// Create creates the remote resource, calling state.Save once its
	// identifier is known and after every later side effect.
	Create(ctx context.Context, ui UI, state Checkpointer) error
	// Update issues the calls needed for the changed fields. Tags are
	// never in changed.
	Update(ctx context.Context, ui UI, prev Managed, changed FieldSet) error
	// Delete removes the remote resource and waits for asynchronous
	// deletion where the service has one.
	Delete(ctx context.Context, ui UI) error
}

// Taggable is a Managed resource with service tags.
type Taggable interface {
	Managed
	Tags() tags.Set
	SetTags(tags.Set)
	// TagID identifies the resource to the tagging API, usually an ARN.
	TagID() string
	Tagger() tags.Tagger
	ListTags(ctx context.Context) (tags.Set, error)
}

// FieldSet is a set of field names.
type FieldSet map[string]struct{}

// NewFieldSet builds a set from names.
func NewFieldSet(names ...string) FieldSet {
	s := make(FieldSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

func (s FieldSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// HasAny reports whether any of names is in s.
func (s FieldSet) HasAny(names ...string) bool {
	for _, n := range names {
		if s.Has(n) {
			return true
		}
	}
	return false
}

// Without returns a copy of s lacking names.
func (s FieldSet) Without(names ...string) FieldSet {
	out := maps.Clone(s)
	if out == nil {
		out = FieldSet{}
	}
	for _, n := range names {
		delete(out, n)
	}
	return out
}

// Names returns the sorted names in s.
func (s FieldSet) Names() []string {
	return slices.Sorted(maps.Keys(s))
}

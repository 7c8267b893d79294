// Package null provides a resource that lives only in an in-memory store.
// It exercises the engine without a cloud account.
package null

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/picklr-io/picklr-aws/internal/errdefs"
	"github.com/picklr-io/picklr-aws/internal/resource"
	"github.com/picklr-io/picklr-aws/internal/tags"
)

const TypeResource = "null:Resource"

// Object is what the store keeps for each created resource.
type Object struct {
	Triggers map[string]string
	Note     string
	Tags     tags.Set
}

// Store stands in for a remote service. Every call is recorded.
type Store struct {
	mu      sync.Mutex
	next    int
	objects map[string]*Object
	fail    map[string]error
	calls   []string
}

func NewStore() *Store {
	return &Store{objects: map[string]*Object{}, fail: map[string]error{}}
}

// FailNext makes the next call of op ("create", "update", "delete") fail.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[op] = err
}

// Calls returns the recorded calls, e.g. "create null-1".
func (s *Store) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// Get returns a copy of the object stored under id.
func (s *Store) Get(id string) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[id]
	if !ok {
		return Object{}, false
	}
	return Object{Triggers: maps.Clone(o.Triggers), Note: o.Note, Tags: o.Tags.Clone()}, true
}

// Remove drops id, as if it had been deleted out of band.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, id)
}

func (s *Store) record(op, id string) error {
	s.calls = append(s.calls, op+" "+id)
	if err, ok := s.fail[op]; ok {
		delete(s.fail, op)
		return err
	}
	return nil
}

func (s *Store) TagResource(_ context.Context, id string, t tags.Set) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("tag", id); err != nil {
		return err
	}
	o, ok := s.objects[id]
	if !ok {
		return &errdefs.NotFoundError{Kind: "null resource", ID: id}
	}
	if o.Tags == nil {
		o.Tags = tags.Set{}
	}
	maps.Copy(o.Tags, t)
	return nil
}

func (s *Store) UntagResource(_ context.Context, id string, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("untag", id); err != nil {
		return err
	}
	if o, ok := s.objects[id]; ok {
		for _, k := range keys {
			delete(o.Tags, k)
		}
	}
	return nil
}

type Provider struct {
	Store *Store
}

func New(store *Store) *Provider {
	return &Provider{Store: store}
}

// Register adds the null resource type to reg.
func (p *Provider) Register(reg *resource.Registry) {
	reg.Register(TypeResource, p.build, resource.Erase[*Resource](Finder{p}))
}

// Resource may name another null resource as its parent; it then records
// the parent's ID when created. Changing triggers replaces it.
type Resource struct {
	Triggers     map[string]string `json:"triggers,omitempty"`
	Note         string            `json:"note,omitempty" picklr:"updatable"`
	Parent       string            `json:"parent,omitempty"`
	ResourceTags tags.Set          `json:"tags,omitempty" picklr:"updatable"`

	ResourceID string `json:"id,omitempty" picklr:"output"`
	ParentID   string `json:"parent_id,omitempty" picklr:"output"`

	parent *Resource
	p      *Provider
}

func (p *Provider) build(props map[string]any, refs resource.Resolver) (resource.Managed, error) {
	r := &Resource{p: p}
	if err := resource.Decode(props, r); err != nil {
		return nil, err
	}
	if r.Parent != "" {
		parent, err := resource.Parent[*Resource](refs, "parent", r.Parent)
		switch {
		case err == nil:
			r.parent = parent
		case r.ParentID == "":
			return nil, err
		}
	}
	return r, nil
}

func (r *Resource) Type() string { return TypeResource }
func (r *Resource) ID() string   { return r.ResourceID }

func (r *Resource) Tags() tags.Set      { return r.ResourceTags }
func (r *Resource) SetTags(t tags.Set)  { r.ResourceTags = t }
func (r *Resource) TagID() string       { return r.ResourceID }
func (r *Resource) Tagger() tags.Tagger { return r.p.Store }

func (r *Resource) ListTags(_ context.Context) (tags.Set, error) {
	o, ok := r.p.Store.Get(r.ResourceID)
	if !ok {
		return nil, &errdefs.NotFoundError{Kind: "null resource", ID: r.ResourceID}
	}
	return o.Tags, nil
}

func (r *Resource) Read(_ context.Context) (bool, error) {
	o, ok := r.p.Store.Get(r.ResourceID)
	if !ok {
		return false, nil
	}
	r.Triggers = o.Triggers
	r.Note = o.Note
	return true, nil
}

func (r *Resource) Create(_ context.Context, ui resource.UI, state resource.Checkpointer) error {
	if r.parent != nil {
		r.ParentID = r.parent.ResourceID
	}
	if r.Parent != "" && r.ParentID == "" {
		return fmt.Errorf("parent %s has not been created", r.Parent)
	}

	s := r.p.Store
	s.mu.Lock()
	s.next++
	id := fmt.Sprintf("null-%d", s.next)
	if err := s.record("create", id); err != nil {
		s.mu.Unlock()
		return err
	}
	s.objects[id] = &Object{Triggers: maps.Clone(r.Triggers), Note: r.Note}
	s.mu.Unlock()

	r.ResourceID = id
	ui.Printf("Created %s\n", id)
	return state.Save()
}

func (r *Resource) Update(_ context.Context, ui resource.UI, _ resource.Managed, changed resource.FieldSet) error {
	s := r.p.Store
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("update", r.ResourceID); err != nil {
		return err
	}
	o, ok := s.objects[r.ResourceID]
	if !ok {
		return &errdefs.NotFoundError{Kind: "null resource", ID: r.ResourceID}
	}
	if changed.Has("note") {
		o.Note = r.Note
	}
	ui.Printf("Updated %s\n", r.ResourceID)
	return nil
}

func (r *Resource) Delete(_ context.Context, ui resource.UI) error {
	s := r.p.Store
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("delete", r.ResourceID); err != nil {
		return err
	}
	if _, ok := s.objects[r.ResourceID]; !ok {
		return &errdefs.NotFoundError{Kind: "null resource", ID: r.ResourceID}
	}
	delete(s.objects, r.ResourceID)
	ui.Printf("Deleted %s\n", r.ResourceID)
	return nil
}

// Finder lists every stored resource.
type Finder struct{ p *Provider }

func (f Finder) FindAll(ctx context.Context) ([]*Resource, error) {
	return f.Find(ctx, nil)
}

func (f Finder) Find(_ context.Context, _ map[string]string) ([]*Resource, error) {
	s := f.p.Store
	s.mu.Lock()
	ids := slices.Sorted(maps.Keys(s.objects))
	s.mu.Unlock()

	var out []*Resource
	for _, id := range ids {
		o, ok := s.Get(id)
		if !ok {
			continue
		}
		out = append(out, &Resource{Triggers: o.Triggers, Note: o.Note, ResourceTags: o.Tags, ResourceID: id, p: f.p})
	}
	return out, nil
}

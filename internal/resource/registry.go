package resource

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/picklr-io/picklr-aws/internal/errdefs"
)

// Resolver looks up resources built earlier in the same run, so children
// can hold a typed reference to their parent.
type Resolver interface {
	Lookup(name string) (Managed, bool)
}

// MapResolver resolves names from a map.
type MapResolver map[string]Managed

func (m MapResolver) Lookup(name string) (Managed, bool) {
	r, ok := m[name]
	return r, ok
}

// Factory builds a resource of one type from its properties.
type Factory func(props map[string]any, refs Resolver) (Managed, error)

type registration struct {
	factory Factory
	finder  AnyFinder
}

// Registry maps resource type names to factories and finders.
type Registry struct {
	mu    sync.RWMutex
	types map[string]registration
}

func NewRegistry() *Registry {
	return &Registry{types: make(map[string]registration)}
}

// Register adds a resource type. finder may be nil.
func (r *Registry) Register(typeName string, factory Factory, finder AnyFinder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[typeName] = registration{factory: factory, finder: finder}
}

// Build creates a resource of typeName from props.
func (r *Registry) Build(typeName string, props map[string]any, refs Resolver) (Managed, error) {
	r.mu.RLock()
	reg, ok := r.types[typeName]
	r.mu.RUnlock()
	if !ok {
		return nil, errdefs.Configf("type", "unknown resource type %q", typeName)
	}
	if refs == nil {
		refs = MapResolver{}
	}
	return reg.factory(props, refs)
}

// Finder returns the finder registered for typeName.
func (r *Registry) Finder(typeName string) (AnyFinder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.types[typeName]
	if !ok {
		return nil, errdefs.Configf("type", "unknown resource type %q", typeName)
	}
	if reg.finder == nil {
		return nil, fmt.Errorf("resource type %s cannot be listed", typeName)
	}
	return reg.finder, nil
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.types))
	for t := range r.types {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Decode maps properties onto out, rejecting unknown keys, and validates
// the struct's field options.
func Decode(props map[string]any, out any) error {
	data, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("failed to marshal properties: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return &errdefs.ConfigurationError{Message: err.Error()}
	}
	return ValidateFields(out)
}

// Parent resolves the resource named by ref and checks its type.
func Parent[T Managed](refs Resolver, field, ref string) (T, error) {
	var zero T
	if ref == "" {
		return zero, errdefs.Configf(field, "is required")
	}
	m, ok := refs.Lookup(ref)
	if !ok {
		return zero, errdefs.Configf(field, "no resource named %q", ref)
	}
	p, ok := m.(T)
	if !ok {
		return zero, errdefs.Configf(field, "%q is a %s", ref, m.Type())
	}
	return p, nil
}

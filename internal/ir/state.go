package ir

// StateVersion is the format version written to new state files.
const StateVersion = 1

// State represents the persistent state.
type State struct {
	Version   int              `json:"version"`
	Serial    int              `json:"serial"`
	Lineage   string           `json:"lineage"`
	Resources []*ResourceState `json:"resources"`
}

// ResourceState is the last known snapshot of a managed resource.
// Attributes hold every field of the resource, outputs included, keyed by
// the same names the configuration uses.
type ResourceState struct {
	Type       string         `json:"type"`
	Name       string         `json:"name"`
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes"`
	// Dependencies are the names this resource was created after.
	Dependencies []string `json:"dependencies,omitempty"`
}

func (r *ResourceState) Address() string { return Address(r.Type, r.Name) }

// Find returns the resource stored at addr.
func (s *State) Find(addr string) (*ResourceState, bool) {
	for _, r := range s.Resources {
		if r.Address() == addr {
			return r, true
		}
	}
	return nil, false
}

// Put replaces the resource at the same address, or appends it.
func (s *State) Put(rs *ResourceState) {
	for i, r := range s.Resources {
		if r.Address() == rs.Address() {
			s.Resources[i] = rs
			return
		}
	}
	s.Resources = append(s.Resources, rs)
}

// Remove drops the resource at addr.
func (s *State) Remove(addr string) {
	for i, r := range s.Resources {
		if r.Address() == addr {
			s.Resources = append(s.Resources[:i], s.Resources[i+1:]...)
			return
		}
	}
}

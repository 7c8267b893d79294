package ir

// Resource is a single managed resource as written in the configuration.
type Resource struct {
	Type string `yaml:"type" pkl:"type" json:"type"` // e.g. "aws:EKS.Cluster"
	Name string `yaml:"name" pkl:"name" json:"name"`
	// DependsOn names resources that must exist first. References made
	// through properties, such as a record set's zone, are found without it.
	DependsOn  []string       `yaml:"depends-on" pkl:"dependsOn" json:"depends_on,omitempty"`
	Lifecycle  *Lifecycle     `yaml:"lifecycle" pkl:"lifecycle" json:"lifecycle,omitempty"`
	Properties map[string]any `yaml:"properties" pkl:"properties" json:"properties,omitempty"`
}

type Lifecycle struct {
	PreventDestroy bool     `yaml:"prevent-destroy" pkl:"preventDestroy" json:"prevent_destroy,omitempty"`
	IgnoreChanges  []string `yaml:"ignore-changes" pkl:"ignoreChanges" json:"ignore_changes,omitempty"`
}

// Address returns the state address of the resource.
func (r *Resource) Address() string { return Address(r.Type, r.Name) }

// Address joins a type and a resource name.
func Address(typ, name string) string { return typ + "." + name }

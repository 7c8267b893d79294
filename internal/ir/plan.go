package ir

// Action is what apply does to one resource.
type Action string

const (
	ActionNoop    Action = "NOOP"
	ActionCreate  Action = "CREATE"
	ActionUpdate  Action = "UPDATE"
	ActionReplace Action = "REPLACE"
	ActionDelete  Action = "DELETE"
)

// Plan represents a calculated execution plan.
type Plan struct {
	Metadata *PlanMetadata     `json:"metadata"`
	Changes  []*ResourceChange `json:"changes"`
	Summary  *PlanSummary      `json:"summary"`
}

type PlanMetadata struct {
	Timestamp   string `json:"timestamp"`
	Lineage     string `json:"lineage"`
	StateSerial int    `json:"state_serial"`
}

type ResourceChange struct {
	Address string         `json:"address"`
	Action  Action         `json:"action"`
	Desired *Resource      `json:"resource,omitempty"`
	Prior   *ResourceState `json:"prior,omitempty"`
	// Changed names the fields that differ from the prior snapshot.
	Changed []string `json:"changed,omitempty"`
	// ForcesReplacement is the subset of Changed that cannot be updated
	// in place.
	ForcesReplacement []string `json:"forces_replacement,omitempty"`
	// Dependencies name the resources this one is created after and
	// deleted before.
	Dependencies []string `json:"dependencies,omitempty"`
}

// Name returns the resource name the change applies to.
func (c *ResourceChange) Name() string {
	if c.Desired != nil {
		return c.Desired.Name
	}
	if c.Prior != nil {
		return c.Prior.Name
	}
	return ""
}

type PlanSummary struct {
	Create  int `json:"create"`
	Update  int `json:"update"`
	Delete  int `json:"delete"`
	Replace int `json:"replace"`
	NoOp    int `json:"noop"`
}

// Count records one change of the given action.
func (s *PlanSummary) Count(a Action) {
	switch a {
	case ActionCreate:
		s.Create++
	case ActionUpdate:
		s.Update++
	case ActionReplace:
		s.Replace++
	case ActionDelete:
		s.Delete++
	default:
		s.NoOp++
	}
}

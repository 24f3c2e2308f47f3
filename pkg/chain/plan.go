package chain

// Plan is the linear extension of a Chain's dependency graph the Engine
// drives in order (§4.5.1).
type Plan struct {
	// Order is the topologically-sorted list of step ids.
	Order []string

	// compositeOwned is the set of step ids that are exclusively reached
	// through a Conditional branch/default, a Parallel child list, or a
	// Loop child list. The main plan loop does not dispatch these
	// directly — doing so as well as via their owning composite would
	// violate invariant 5 ("a step runs at most once per containing
	// scope"). They still participate in topological ordering so
	// dependency edges that happen to reference them resolve correctly.
	compositeOwned map[string]struct{}
}

// BuildPlan computes a Chain's execution plan: a topological order plus
// the set of composite-owned step ids.
func BuildPlan(c *Chain) (*Plan, error) {
	order, err := topoSort(c)
	if err != nil {
		return nil, err
	}

	owned := make(map[string]struct{})
	for _, step := range c.Steps {
		switch body := step.Body.(type) {
		case Conditional:
			for _, b := range body.Branches {
				owned[b.TargetStepID] = struct{}{}
			}
			if body.DefaultBranch != "" {
				owned[body.DefaultBranch] = struct{}{}
			}
		case Parallel:
			for _, child := range body.Children {
				owned[child] = struct{}{}
			}
		case Loop:
			for _, child := range body.Children {
				owned[child] = struct{}{}
			}
		}
	}

	return &Plan{Order: order, compositeOwned: owned}, nil
}

// IsCompositeOwned reports whether stepID is exclusively reached via a
// composite parent rather than the main plan loop.
func (p *Plan) IsCompositeOwned(stepID string) bool {
	_, ok := p.compositeOwned[stepID]
	return ok
}

package chain

import (
	"fmt"
	"strings"
)

// Validate accepts a Chain and returns the first structural or semantic
// failure found, or nil if the chain is fit for execution (§4.1). Checks
// run in the order documented there; validation never invokes an
// executor.
func Validate(c *Chain) error {
	if err := checkDuplicateStepIDs(c); err != nil {
		return err
	}
	if err := checkReferencesResolve(c); err != nil {
		return err
	}
	if err := checkRequiredVariables(c); err != nil {
		return err
	}
	if err := checkAcyclic(c); err != nil {
		return err
	}
	if err := checkStepTypeSpecifics(c); err != nil {
		return err
	}
	if err := checkConditionReferences(c); err != nil {
		return err
	}
	return nil
}

// checkDuplicateStepIDs enforces invariant 1. Because Chain.Steps is a
// map keyed by id, true duplicates cannot arise from well-formed Go
// construction; this guards against a Step whose own ID field disagrees
// with its map key, which a hand-built or deserialized Chain could produce.
func checkDuplicateStepIDs(c *Chain) error {
	for key, step := range c.Steps {
		if step.ID != key {
			return newErr(ErrValidation, "step map key %q does not match Step.ID %q", key, step.ID)
		}
	}
	return nil
}

func (c *Chain) stepExists(id string) bool {
	_, ok := c.Steps[id]
	return ok
}

// variableExists reports whether name is a declared chain variable or the
// iteration variable of a Loop step, which the loop writes into the
// context before each pass.
func (c *Chain) variableExists(name string) bool {
	if _, ok := c.Variables[name]; ok {
		return true
	}
	for _, step := range c.Steps {
		if loop, ok := step.Body.(Loop); ok && loop.IterationVariable == name {
			return true
		}
	}
	return false
}

// checkReferencesResolve enforces invariant 2: every id mentioned by a
// dependency, branch target, parallel/loop child, or input/output mapping
// names an existing step, and every variable named by an input source or
// output target exists (see variableExists).
func checkReferencesResolve(c *Chain) error {
	for _, dep := range c.Dependencies {
		if !c.stepExists(dep.DependentStep) {
			return stepErr(ErrStepNotFound, dep.DependentStep, "dependency references unknown dependent step %q", dep.DependentStep)
		}
		switch dep.Kind {
		case DependencySimple, DependencyConditional:
			if !c.stepExists(dep.Required) {
				return stepErr(ErrStepNotFound, dep.Required, "dependency references unknown required step %q", dep.Required)
			}
		case DependencyAll, DependencyAny:
			for _, r := range dep.RequiredSet {
				if !c.stepExists(r) {
					return stepErr(ErrStepNotFound, r, "dependency references unknown required step %q", r)
				}
			}
		}
	}

	for id, step := range c.Steps {
		if err := checkStepReferences(c, id, step); err != nil {
			return err
		}
	}
	return nil
}

func checkStepReferences(c *Chain, id string, step *Step) error {
	for _, in := range step.Inputs {
		switch in.Source.Kind {
		case SourceStepOutput:
			if !c.stepExists(in.Source.StepID) {
				return stepErr(ErrStepNotFound, in.Source.StepID, "step %q input %q references unknown step %q", id, in.Name, in.Source.StepID)
			}
		case SourceVariable:
			if !c.variableExists(in.Source.Name) {
				return varErr(ErrVariableNotFound, in.Source.Name, "step %q input %q references undeclared variable %q", id, in.Name, in.Source.Name)
			}
		}
	}
	for _, out := range step.Outputs {
		switch out.Target.Kind {
		case TargetStepInput:
			if !c.stepExists(out.Target.StepID) {
				return stepErr(ErrStepNotFound, out.Target.StepID, "step %q output %q targets unknown step %q", id, out.Name, out.Target.StepID)
			}
		case TargetVariable:
			if !c.variableExists(out.Target.Name) {
				return varErr(ErrVariableNotFound, out.Target.Name, "step %q output %q targets undeclared variable %q", id, out.Name, out.Target.Name)
			}
		}
	}

	switch body := step.Body.(type) {
	case Conditional:
		for _, b := range body.Branches {
			if !c.stepExists(b.TargetStepID) {
				return stepErr(ErrStepNotFound, b.TargetStepID, "step %q branch targets unknown step %q", id, b.TargetStepID)
			}
		}
		if body.DefaultBranch != "" && !c.stepExists(body.DefaultBranch) {
			return stepErr(ErrStepNotFound, body.DefaultBranch, "step %q default branch targets unknown step %q", id, body.DefaultBranch)
		}
	case Parallel:
		for _, child := range body.Children {
			if !c.stepExists(child) {
				return stepErr(ErrStepNotFound, child, "step %q parallel child %q does not exist", id, child)
			}
		}
	case Loop:
		for _, child := range body.Children {
			if !c.stepExists(child) {
				return stepErr(ErrStepNotFound, child, "step %q loop child %q does not exist", id, child)
			}
		}
	}
	return nil
}

// checkRequiredVariables enforces invariant 4: a Variable marked
// Required=true must have a non-nil InitialValue, or be written by some
// step's output mapping somewhere in the chain.
func checkRequiredVariables(c *Chain) error {
	writtenByOutput := make(map[string]bool)
	for _, step := range c.Steps {
		for _, out := range step.Outputs {
			if out.Target.Kind == TargetVariable {
				writtenByOutput[out.Target.Name] = true
			}
		}
	}
	for name, v := range c.Variables {
		if !v.Required {
			continue
		}
		if v.InitialValue != nil {
			continue
		}
		if writtenByOutput[name] {
			continue
		}
		return varErr(ErrValidation, name, "required variable %q has no initial value and is never written by a step output", name)
	}
	return nil
}

type markState int

const (
	markNone markState = iota
	markTemp
	markPerm
)

// checkAcyclic enforces invariant 3 via DFS with a temporary-mark
// recursion stack (§4.1 item 4): a back-edge (an edge into a node still
// marked temporary) means a cycle.
func checkAcyclic(c *Chain) error {
	_, err := topoSort(c)
	return err
}

// topoSort builds the dependency-graph adjacency (dependency -> dependent)
// and returns a topological order, or the first CircularDependency found.
// Shared by checkAcyclic and the Engine's plan builder (§4.5.1) so the two
// never disagree about what counts as a cycle.
func topoSort(c *Chain) ([]string, error) {
	adj := make(map[string][]string)
	for _, dep := range c.Dependencies {
		switch dep.Kind {
		case DependencySimple, DependencyConditional:
			adj[dep.Required] = append(adj[dep.Required], dep.DependentStep)
		case DependencyAll, DependencyAny:
			for _, r := range dep.RequiredSet {
				adj[r] = append(adj[r], dep.DependentStep)
			}
		}
	}

	marks := make(map[string]markState, len(c.Steps))
	order := make([]string, 0, len(c.Steps))

	// Deterministic iteration order so tie-breaking (left unspecified by
	// §4.5.1) is at least stable across calls on the same Chain value.
	ids := make([]string, 0, len(c.Steps))
	for id := range c.Steps {
		ids = append(ids, id)
	}
	sortStrings(ids)

	var visit func(id string) error
	visit = func(id string) error {
		switch marks[id] {
		case markPerm:
			return nil
		case markTemp:
			return stepErr(ErrCircularDependency, id, "cycle detected at step %q", id)
		}
		marks[id] = markTemp
		neighbors := append([]string(nil), adj[id]...)
		sortStrings(neighbors)
		for _, next := range neighbors {
			if err := visit(next); err != nil {
				return err
			}
		}
		marks[id] = markPerm
		order = append(order, id)
		return nil
	}

	for _, id := range ids {
		if marks[id] == markNone {
			if err := visit(id); err != nil {
				return nil, err
			}
		}
	}

	// visit appends in post-order (a step only after every step that
	// depends on it); reverse to get a valid linear extension of the DAG.
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order, nil
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// checkStepTypeSpecifics enforces §4.1 item 5.
func checkStepTypeSpecifics(c *Chain) error {
	for id, step := range c.Steps {
		switch body := step.Body.(type) {
		case FunctionCall:
			if body.FunctionName == "" {
				return stepErr(ErrValidation, id, "FunctionCall step %q has an empty function_name", id)
			}
		case ToolUse:
			if body.ToolName == "" {
				return stepErr(ErrValidation, id, "ToolUse step %q has an empty tool_name", id)
			}
		case Custom:
			if body.HandlerName == "" {
				return stepErr(ErrValidation, id, "Custom step %q has an empty handler_name", id)
			}
		case Conditional:
			if len(body.Branches) == 0 && body.DefaultBranch == "" {
				return stepErr(ErrValidation, id, "Conditional step %q has no branches and no default_branch", id)
			}
		case Loop:
			if !isValidIdentifier(body.IterationVariable) {
				return stepErr(ErrValidation, id, "Loop step %q has an invalid iteration_variable %q", id, body.IterationVariable)
			}
			if body.MaxIterations == nil && body.BreakCondition.IsZero() {
				return stepErr(ErrValidation, id, "Loop step %q has neither max_iterations nor break_condition: would loop forever", id)
			}
		}
	}
	return nil
}

func isValidIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		isLetter := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
		isDigit := r >= '0' && r <= '9'
		if i == 0 && isDigit {
			return false
		}
		if !isLetter && !isDigit {
			return false
		}
	}
	return true
}

// checkConditionReferences is a best-effort static scan (§4.1 item 6):
// Equals/Contains/Regex/GreaterThan/LessThan conditions that name a
// variable, and Comparison operands of the `{{name}}` form, are checked
// against the chain's variables (see variableExists).
// Expression and Custom conditions are deferred to runtime, since their
// variable references are embedded in free-form strings/params.
func checkConditionReferences(c *Chain) error {
	check := func(cond Condition, context string) error {
		return walkCondition(cond, func(leaf Condition) error {
			switch leaf.Kind {
			case ConditionEquals, ConditionContains, ConditionRegex, ConditionGreaterThan, ConditionLessThan:
				if leaf.Variable != "" && !c.variableExists(leaf.Variable) {
					return varErr(ErrValidation, leaf.Variable, "%s references undeclared variable %q", context, leaf.Variable)
				}
			case ConditionComparison:
				for _, operand := range []string{leaf.Left, leaf.Right} {
					trimmed := strings.TrimSpace(operand)
					if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") {
						name := strings.TrimSpace(trimmed[2 : len(trimmed)-2])
						if !c.variableExists(name) {
							return varErr(ErrValidation, name, "%s references undeclared variable %q", context, name)
						}
					}
				}
			}
			return nil
		})
	}

	for id, step := range c.Steps {
		if !step.Condition.IsZero() {
			if err := check(step.Condition, fmt.Sprintf("step %q condition", id)); err != nil {
				return err
			}
		}
		if body, ok := step.Body.(Conditional); ok {
			for i, b := range body.Branches {
				if err := check(b.Condition, fmt.Sprintf("step %q branch %d", id, i)); err != nil {
					return err
				}
			}
		}
		if body, ok := step.Body.(Loop); ok && !body.BreakCondition.IsZero() {
			if err := check(body.BreakCondition, fmt.Sprintf("step %q break_condition", id)); err != nil {
				return err
			}
		}
	}
	for _, dep := range c.Dependencies {
		if dep.Kind == DependencyConditional && !dep.Condition.IsZero() {
			if err := check(dep.Condition, fmt.Sprintf("dependency on %q", dep.DependentStep)); err != nil {
				return err
			}
		}
	}
	return nil
}

// walkCondition visits every leaf (non-And/Or/Not) condition in c,
// stopping at the first error fn returns.
func walkCondition(c Condition, fn func(Condition) error) error {
	switch c.Kind {
	case ConditionAnd, ConditionOr, ConditionNot:
		for _, operand := range c.Operands {
			if err := walkCondition(operand, fn); err != nil {
				return err
			}
		}
		return nil
	default:
		return fn(c)
	}
}

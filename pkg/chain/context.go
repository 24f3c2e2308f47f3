package chain

import "sync"

// ExecutionContext is the live, mutable state of a single chain run (§3).
// It is owned by exactly one Engine.Run call (invariant 6): never share
// one ExecutionContext between concurrent executions.
//
// Thread-safety. ExecutionContext is the sole shared mutable resource
// during a run (§5): Parallel children and Loop iterations all observe it
// through this one handle. Every field is behind a single mutex with
// fine-grained accessor methods — one read or one write per call, never
// held across a suspension point such as an executor invocation. Writes
// from concurrent Parallel siblings race on the same variable key by
// design (§5); the last writer wins and no ordering is promised between
// siblings.
type ExecutionContext struct {
	mu sync.RWMutex

	chainID string

	variables map[string]Value
	inputs    map[string]Value
	outputs   map[string]Value

	stepResults map[string]StepResult

	// completed is the set of step ids that have finished (successfully or
	// via a recovered error handler) and so satisfy dependency gates.
	completed map[string]struct{}

	// stepInputs is the side table backing OutputMapping's StepInput
	// target (§4.2, §9 open question): keyed by (stepID, inputName), it
	// holds late-bound values a prior step's output wrote for a step that
	// has not yet run.
	stepInputs map[stepInputKey]Value
}

type stepInputKey struct {
	stepID string
	name   string
}

// NewExecutionContext creates the per-run context for chainID, seeded with
// inputs and the chain's declared variable initial values.
func NewExecutionContext(chainID string, inputs map[string]Value, variables map[string]*Variable) *ExecutionContext {
	vars := make(map[string]Value, len(variables))
	for name, v := range variables {
		if v.InitialValue != nil {
			vars[name] = *v.InitialValue
		}
	}
	in := make(map[string]Value, len(inputs))
	for k, v := range inputs {
		in[k] = v
	}
	return &ExecutionContext{
		chainID:     chainID,
		variables:   vars,
		inputs:      in,
		outputs:     make(map[string]Value),
		stepResults: make(map[string]StepResult),
		completed:   make(map[string]struct{}),
		stepInputs:  make(map[stepInputKey]Value),
	}
}

// ChainID returns the id of the chain this context belongs to.
func (c *ExecutionContext) ChainID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.chainID
}

// GetVariable returns a variable's current value (thread-safe).
func (c *ExecutionContext) GetVariable(name string) (Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.variables[name]
	return v, ok
}

// SetVariable writes a variable's value, overwriting any prior value
// (thread-safe).
func (c *ExecutionContext) SetVariable(name string, v Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[name] = v
}

// GetInput returns a chain input's value (thread-safe).
func (c *ExecutionContext) GetInput(name string) (Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.inputs[name]
	return v, ok
}

// GetOutput returns a chain output's current value (thread-safe).
func (c *ExecutionContext) GetOutput(name string) (Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.outputs[name]
	return v, ok
}

// SetOutput writes a chain output's value (thread-safe).
func (c *ExecutionContext) SetOutput(name string, v Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs[name] = v
}

// Outputs returns a shallow copy of all chain outputs captured so far,
// used by the Engine at completion (§4.5.4) to return a value independent
// of the context, which is then discarded.
func (c *ExecutionContext) Outputs() map[string]Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Value, len(c.outputs))
	for k, v := range c.outputs {
		out[k] = v
	}
	return out
}

// GetStepResult returns a step's recorded result, if it has run.
func (c *ExecutionContext) GetStepResult(stepID string) (StepResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.stepResults[stepID]
	return r, ok
}

// SetStepResult records a step's result.
func (c *ExecutionContext) SetStepResult(stepID string, r StepResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stepResults[stepID] = r
}

// IsCompleted reports whether stepID is in the completed set.
func (c *ExecutionContext) IsCompleted(stepID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.completed[stepID]
	return ok
}

// MarkCompleted adds stepID to the completed set. Callers must do this
// only after the step's output mapping writes have been applied (§5), so
// that a dependent observing completion also observes the new values.
func (c *ExecutionContext) MarkCompleted(stepID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed[stepID] = struct{}{}
}

// CompletedSet returns a snapshot copy of the completed step ids.
func (c *ExecutionContext) CompletedSet() map[string]struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]struct{}, len(c.completed))
	for k := range c.completed {
		out[k] = struct{}{}
	}
	return out
}

// SetStepInput writes a late-bound value for a step input targeted by
// another step's OutputMapping with a StepInput target (§4.2).
func (c *ExecutionContext) SetStepInput(stepID, name string, v Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stepInputs[stepInputKey{stepID, name}] = v
}

// GetStepInput reads a late-bound step input value, if one was written.
func (c *ExecutionContext) GetStepInput(stepID, name string) (Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.stepInputs[stepInputKey{stepID, name}]
	return v, ok
}

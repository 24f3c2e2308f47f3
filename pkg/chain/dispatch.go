package chain

import (
	"context"
	"time"
)

// dispatchPlan drives the main plan loop (§4.5.1): walk the topological
// order, skip composite-owned steps (they are dispatched exclusively by
// their owning Conditional/Parallel/Loop, never directly), and dispatch
// everything else through its dependency and condition gates.
func (r *run) dispatchPlan(ctx context.Context) error {
	for _, id := range r.plan.Order {
		if r.plan.IsCompositeOwned(id) {
			continue
		}
		if err := r.dispatchGated(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// dispatchGated evaluates a step's dependency edges and its own Condition
// before dispatching it (§4.5.2). A failed gate is a silent skip: the step
// is never marked completed, so its own dependents gate-skip in turn.
func (r *run) dispatchGated(ctx context.Context, id string) error {
	ok, err := r.dependencyGateOpen(id)
	if err != nil {
		return err
	}
	if !ok {
		r.notifyStepEnd(id, StepResult{StepID: id}, true)
		return nil
	}

	step := r.chain.Steps[id]
	if !step.Condition.IsZero() {
		open, err := r.evaluate(step.Condition)
		if err != nil {
			return err
		}
		if !open {
			r.notifyStepEnd(id, StepResult{StepID: id}, true)
			return nil
		}
	}

	return r.dispatchStep(ctx, id)
}

func (r *run) dependencyGateOpen(id string) (bool, error) {
	for _, dep := range r.chain.Dependencies {
		if dep.DependentStep != id {
			continue
		}
		ok, err := r.dependencySatisfied(dep)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (r *run) dependencySatisfied(dep Dependency) (bool, error) {
	switch dep.Kind {
	case DependencySimple:
		return r.execCtx.IsCompleted(dep.Required), nil
	case DependencyAll:
		for _, req := range dep.RequiredSet {
			if !r.execCtx.IsCompleted(req) {
				return false, nil
			}
		}
		return true, nil
	case DependencyAny:
		if len(dep.RequiredSet) == 0 {
			return true, nil
		}
		for _, req := range dep.RequiredSet {
			if r.execCtx.IsCompleted(req) {
				return true, nil
			}
		}
		return false, nil
	case DependencyConditional:
		if !r.execCtx.IsCompleted(dep.Required) {
			return false, nil
		}
		return r.evaluate(dep.Condition)
	default:
		return false, newErr(ErrValidation, "dependency on %q has unknown kind %d", dep.DependentStep, int(dep.Kind))
	}
}

// dispatchStep is the single recursive entry point for running one step,
// whatever reached it: the gated main loop, a Conditional's selected
// branch, a Parallel child, or a Loop iteration. It is also the single
// place chain-level ErrorHandling (§7) is applied, so that a leaf
// failure's StopOnError/ContinueOnError/ChainRetryWithDifferentParams
// outcome does not depend on how deeply the step is nested.
func (r *run) dispatchStep(ctx context.Context, id string) error {
	step, ok := r.chain.Steps[id]
	if !ok {
		return stepErr(ErrStepNotFound, id, "plan references undefined step %q", id)
	}

	r.notifyStepStart(id)
	start := time.Now()

	var result StepResult
	var err error
	if step.Body.Type().IsLeaf() {
		result, err = r.runLeaf(ctx, step)
	} else {
		result, err = r.runComposite(ctx, step)
	}
	result.StepID = id
	result.Duration = time.Since(start)

	if err == nil {
		if werr := r.engine.resolver.WriteOutputs(step, result, r.execCtx); werr != nil {
			err = werr
		}
	}

	if err != nil {
		result = result.WithError(err)
		final, fatal := r.applyChainPolicy(step, result)
		r.notifyStepEnd(id, final, false)
		return fatal
	}

	r.execCtx.SetStepResult(id, result)
	r.execCtx.MarkCompleted(id)
	r.notifyStepEnd(id, result, false)
	return nil
}

// applyChainPolicy is the sole point chain.ErrorHandling is consulted
// (§7): StopOnError propagates result.Err unchanged; ContinueOnError
// absorbs it (the step stays unmarked-completed, but the run continues);
// ChainRetryWithDifferentParams returns the chainRestart sentinel that
// only Engine.Run specially handles, so a restart request raised deep
// inside a Loop or Parallel child still reaches it unchanged.
func (r *run) applyChainPolicy(step *Step, result StepResult) (StepResult, error) {
	switch r.chain.ErrorHandling.Kind {
	case ContinueOnError:
		return result, nil
	case ChainRetryWithDifferentParams:
		return result, chainRestart{params: r.chain.ErrorHandling.Params}
	default:
		return result, result.Err
	}
}

// runComposite dispatches the three composite step types (§4.5.3); leaf
// dispatch lives in leaf.go, Parallel in parallel.go, Loop in loop.go.
func (r *run) runComposite(ctx context.Context, step *Step) (StepResult, error) {
	switch body := step.Body.(type) {
	case Conditional:
		return r.runConditional(ctx, step, body)
	case Parallel:
		return r.runParallel(ctx, step, body)
	case Loop:
		return r.runLoop(ctx, step, body)
	default:
		return StepResult{}, stepErr(ErrValidation, step.ID, "step %q has unrecognized composite body", step.ID)
	}
}

// runConditional evaluates each branch's Condition in declaration order,
// recursively dispatching the first match's target, falling back to
// DefaultBranch, or doing nothing if neither matches (§4.5.3).
func (r *run) runConditional(ctx context.Context, step *Step, body Conditional) (StepResult, error) {
	for _, b := range body.Branches {
		ok, err := r.evaluate(b.Condition)
		if err != nil {
			return StepResult{}, err
		}
		if ok {
			return r.dispatchTarget(ctx, b.TargetStepID)
		}
	}
	if body.DefaultBranch != "" {
		return r.dispatchTarget(ctx, body.DefaultBranch)
	}
	return StepResult{}, nil
}

// dispatchTarget recursively dispatches a composite-owned target step,
// returning its recorded StepResult on success. A non-nil error here has
// already passed through the target's own dispatchStep (and so its own
// chain-policy decision); it is forwarded unchanged.
func (r *run) dispatchTarget(ctx context.Context, targetID string) (StepResult, error) {
	if err := r.dispatchStep(ctx, targetID); err != nil {
		return StepResult{}, err
	}
	result, _ := r.execCtx.GetStepResult(targetID)
	return result, nil
}

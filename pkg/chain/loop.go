package chain

import "context"

// runLoop repeatedly dispatches a Loop step's children (§4.5.3), writing
// the 0-based iteration index into IterationVariable before each pass and
// evaluating BreakCondition at the top of the iteration. The validator
// (checkStepTypeSpecifics) already rejects a Loop with neither
// MaxIterations nor a BreakCondition, so this cannot spin forever.
func (r *run) runLoop(ctx context.Context, step *Step, body Loop) (StepResult, error) {
	for i := 0; body.MaxIterations == nil || i < *body.MaxIterations; i++ {
		r.execCtx.SetVariable(body.IterationVariable, NewNumber(float64(i)))

		if !body.BreakCondition.IsZero() {
			brk, err := r.evaluate(body.BreakCondition)
			if err != nil {
				return StepResult{}, err
			}
			if brk {
				break
			}
		}

		for _, childID := range body.Children {
			if err := r.dispatchStep(ctx, childID); err != nil {
				return StepResult{}, err
			}
		}
	}
	return StepResult{}, nil
}

package chain

import (
	"context"
	"sync"
)

// runParallel fans out a Parallel step's children as concurrent goroutines
// (§4.5.3, §5). With wait_for_all, every child is awaited and the first
// child (in declaration order, for determinism independent of finish
// order) to have failed supplies the step's error. Without wait_for_all,
// children are driven to completion in the background — failures are
// logged, not propagated — and Engine.Run waits for them via r.bgWG before
// returning, so no goroutine outlives its ExecutionContext.
func (r *run) runParallel(ctx context.Context, step *Step, body Parallel) (StepResult, error) {
	if body.WaitForAll {
		return r.runParallelWaitAll(ctx, body)
	}
	r.runParallelFireAndForget(ctx, body)
	return StepResult{}, nil
}

func (r *run) runParallelWaitAll(ctx context.Context, body Parallel) (StepResult, error) {
	errs := make([]error, len(body.Children))
	var wg sync.WaitGroup
	for i, childID := range body.Children {
		wg.Add(1)
		go func(i int, childID string) {
			defer wg.Done()
			if err := r.acquireParallelSlot(ctx); err != nil {
				errs[i] = err
				return
			}
			defer r.releaseParallelSlot()
			errs[i] = r.dispatchStep(ctx, childID)
		}(i, childID)
	}
	wg.Wait()

	for i, err := range errs {
		if err == nil {
			continue
		}
		if restart, ok := err.(chainRestart); ok {
			return StepResult{}, restart
		}
		return StepResult{}, wrapErr(ErrStepExecution, body.Children[i], err, "parallel child %q failed: %v", body.Children[i], err)
	}
	return StepResult{}, nil
}

func (r *run) runParallelFireAndForget(ctx context.Context, body Parallel) {
	for _, childID := range body.Children {
		childID := childID
		r.bgWG.Add(1)
		go func() {
			defer r.bgWG.Done()
			if err := r.acquireParallelSlot(ctx); err != nil {
				return
			}
			defer r.releaseParallelSlot()
			if err := r.dispatchStep(ctx, childID); err != nil {
				Log().Warn().Err(err).Str("step_id", childID).
					Msg("parallel child failed (wait_for_all=false, logged non-fatal)")
			}
		}()
	}
}

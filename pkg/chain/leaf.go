package chain

import (
	"context"

	"github.com/cenkalti/backoff/v4"
)

// runLeaf dispatches a leaf step (§4.5.3 "Leaf"): resolve inputs, invoke
// the registered executor honoring RetryPolicy, then fall back to
// ErrorHandler once retries are exhausted. The returned error is the raw,
// not-yet-chain-policy-applied outcome; dispatchStep is the single place
// chain-level ErrorHandling is applied, whether the step was reached
// directly or recursively from a composite.
func (r *run) runLeaf(ctx context.Context, step *Step) (StepResult, error) {
	executor, ok := r.engine.registry.Lookup(step)
	if !ok {
		return StepResult{}, stepErr(ErrStepNotFound, step.ID, "no executor registered for step type %s", step.Body.Type())
	}

	policy := step.RetryPolicy

	var last StepResult
	operation := func() error {
		result, err := r.invokeExecutor(ctx, step, executor, step.Body)
		last = result
		if err == nil {
			return nil
		}
		last = last.WithError(err)
		if policy != nil && !shouldRetryError(policy, err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var retryErr error
	if policy == nil {
		retryErr = operation()
	} else {
		// backoff.WithMaxRetries bounds operation to one initial attempt
		// plus MaxRetries retries, sleeping EngineBackoff's computed
		// interval between each via backoff.Retry's own driver loop —
		// the delay convention itself still lives in EngineBackoff
		// (§9's interval * factor^attempt resolution), backoff.Retry just
		// owns the sleep-and-reinvoke mechanics.
		retryErr = backoff.Retry(operation, backoff.WithMaxRetries(NewEngineBackoff(policy), uint64(policy.MaxRetries)))
	}
	if retryErr == nil {
		return last, nil
	}

	if step.ErrorHandler != nil {
		recovered, handled, err := r.applyErrorHandler(ctx, step, last)
		if err != nil {
			return StepResult{}, err
		}
		if handled {
			return recovered, nil
		}
	}

	return last, last.Err
}

// invokeExecutor resolves a step's merged input envelope and invokes its
// executor under the step's own Timeout, if any. Mirrors the teacher's
// tool-call cancellation pattern: the executor call happens inside
// whatever deadline ctx now carries, and leaf executors are expected to
// select on ctx.Done() themselves (builtin.go's runWithTimeout does this).
func (r *run) invokeExecutor(ctx context.Context, step *Step, executor StepExecutor, body StepBody) (StepResult, error) {
	inputs, err := r.resolveMergedInputs(step)
	if err != nil {
		return StepResult{}, err
	}

	stepCtx := ctx
	var cancel context.CancelFunc
	if step.Timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	result := executor.ExecuteStep(stepCtx, step, r.execCtx, inputs)
	if result.Err == nil {
		return result, nil
	}
	if stepCtx.Err() == context.DeadlineExceeded {
		if _, isEngineErr := result.Err.(*Error); !isEngineErr {
			return result, newErr(ErrTimeout, "step %q exceeded timeout of %v", step.ID, step.Timeout)
		}
	}
	return result, result.Err
}

// resolveMergedInputs implements §4.5.3's "merged input envelope": a leaf
// step's static body arguments (FunctionCall.Arguments, ToolUse.Arguments,
// Custom.Config, LLMInference.Extra) form the base envelope, which InputMapping-resolved
// values then overlay.
func (r *run) resolveMergedInputs(step *Step) (map[string]Value, error) {
	inputs := cloneValueMap(staticArguments(step.Body))
	resolved, err := r.engine.resolver.ResolveInputs(step, r.execCtx)
	if err != nil {
		return nil, err
	}
	for k, v := range resolved {
		inputs[k] = v
	}
	return inputs, nil
}

func staticArguments(body StepBody) map[string]Value {
	switch b := body.(type) {
	case FunctionCall:
		return b.Arguments
	case ToolUse:
		return b.Arguments
	case Custom:
		return b.Config
	case LLMInference:
		return b.Extra
	default:
		return nil
	}
}

func cloneValueMap(m map[string]Value) map[string]Value {
	out := make(map[string]Value, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// applyErrorHandler implements §7's step-level ErrorHandler, consulted
// after RetryPolicy is exhausted. handled reports whether the returned
// StepResult should be treated as a recovered success; err is a fresh
// failure of the handler itself (e.g. an unresolvable fallback step id).
func (r *run) applyErrorHandler(ctx context.Context, step *Step, failed StepResult) (StepResult, bool, error) {
	h := step.ErrorHandler
	switch h.Kind {
	case ErrorHandlerContinueWithDefault:
		outputs, ok := h.DefaultValue.AsObject()
		if !ok {
			return StepResult{}, false, stepErr(ErrValidation, step.ID, "ContinueWithDefault value must be an object of output name to value")
		}
		return StepResult{Outputs: cloneValueMap(outputs)}, true, nil

	case ErrorHandlerRetryWithDifferentParams:
		overridden := withParamOverrides(step, h.Params)
		executor, ok := r.engine.registry.Lookup(overridden)
		if !ok {
			return StepResult{}, false, stepErr(ErrStepNotFound, step.ID, "no executor registered for step type %s", overridden.Body.Type())
		}
		result, err := r.invokeExecutor(ctx, overridden, executor, overridden.Body)
		if err != nil {
			return result, false, nil
		}
		return result, true, nil

	case ErrorHandlerExecuteFallbackStep:
		fallback, ok := r.chain.Steps[h.FallbackStepID]
		if !ok {
			return StepResult{}, false, stepErr(ErrStepNotFound, h.FallbackStepID, "error handler's fallback step %q does not exist", h.FallbackStepID)
		}
		if !fallback.Body.Type().IsLeaf() {
			return StepResult{}, false, stepErr(ErrValidation, h.FallbackStepID, "fallback step %q must be a leaf step", h.FallbackStepID)
		}
		executor, ok := r.engine.registry.Lookup(fallback)
		if !ok {
			return StepResult{}, false, stepErr(ErrStepNotFound, fallback.ID, "no executor registered for fallback step type %s", fallback.Body.Type())
		}
		result, err := r.invokeExecutor(ctx, fallback, executor, fallback.Body)
		if err != nil {
			return result, false, nil
		}
		return result, true, nil

	case ErrorHandlerCustom:
		fn, ok := r.customErrorHandlers[h.HandlerName]
		if !ok {
			return StepResult{}, false, stepErr(ErrValidation, step.ID, "no custom error handler registered for %q", h.HandlerName)
		}
		result, err := fn(ctx, step, failed, h.Config)
		if err != nil {
			return StepResult{}, false, err
		}
		return result, true, nil

	default:
		return StepResult{}, false, stepErr(ErrValidation, step.ID, "unknown error handler kind %d", int(h.Kind))
	}
}

// withParamOverrides returns a shallow copy of step whose body has had
// params merged into its argument/config map, for the step-level
// ErrorHandlerRetryWithDifferentParams path. Step bodies without
// an argument-shaped payload (LLMInference's structured fields, the
// composite types) are returned unchanged — overriding them is not
// expressible through a flat param map and is out of scope (§9).
func withParamOverrides(step *Step, params map[string]Value) *Step {
	if len(params) == 0 {
		return step
	}
	overridden := *step
	switch b := step.Body.(type) {
	case FunctionCall:
		overridden.Body = FunctionCall{FunctionName: b.FunctionName, Arguments: mergeValueMaps(b.Arguments, params)}
	case ToolUse:
		overridden.Body = ToolUse{ToolName: b.ToolName, Arguments: mergeValueMaps(b.Arguments, params)}
	case Custom:
		overridden.Body = Custom{HandlerName: b.HandlerName, Config: mergeValueMaps(b.Config, params)}
	}
	return &overridden
}

func mergeValueMaps(base, overrides map[string]Value) map[string]Value {
	merged := make(map[string]Value, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

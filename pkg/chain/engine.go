package chain

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// StepErrorHandler implements an ErrorHandlerCustom handler, registered on
// an Engine under a name and looked up by ErrorHandler.HandlerName.
type StepErrorHandler func(ctx context.Context, step *Step, failed StepResult, config map[string]Value) (StepResult, error)

// Engine is the immutable, reusable template that drives chain executions
// (§4.5, §6.1). Mirroring the template/execution split: Engine holds
// configuration and registries shared across runs; each Run call builds
// its own *run companion holding the per-execution ExecutionContext and
// concurrency gate, so concurrent Run calls on the same Engine never
// share mutable state (§8 invariant 8, "Context isolation").
//
// Engine is safe for concurrent use: AddObserver/RegisterConditionEvaluator
// take a write lock, Run takes only a read lock to snapshot the observer
// list and evaluator map before dispatching.
type Engine struct {
	mu                  sync.RWMutex
	registry            *Registry
	resolver            *Resolver
	conditionEvaluators map[string]ConditionEvaluator
	errorHandlers       map[string]StepErrorHandler
	observers           []ExecutionObserver
}

// NewEngine returns an Engine backed by registry (use NewBuiltinRegistry
// or NewRegistry, optionally merged with application-specific executors).
func NewEngine(registry *Registry) *Engine {
	return &Engine{
		registry:            registry,
		resolver:            NewResolver(),
		conditionEvaluators: make(map[string]ConditionEvaluator),
		errorHandlers:       make(map[string]StepErrorHandler),
	}
}

// RegisterErrorHandler installs an ErrorHandlerCustom handler under name.
func (e *Engine) RegisterErrorHandler(name string, fn StepErrorHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errorHandlers[name] = fn
}

// AddObserver registers an ExecutionObserver, notified by every future Run
// call in registration order.
func (e *Engine) AddObserver(o ExecutionObserver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, o)
}

// RegisterConditionEvaluator installs a ConditionCustom handler under name.
func (e *Engine) RegisterConditionEvaluator(name string, fn ConditionEvaluator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conditionEvaluators[name] = fn
}

// Resolver exposes the Engine's Data Resolver & Transformer, so callers
// can register TransformCustom handlers (RegisterTransform) before Run.
func (e *Engine) Resolver() *Resolver {
	return e.resolver
}

// Registry exposes the Engine's Step Executor Registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// chainRestart is an internal sentinel error run.dispatchPlan returns to
// signal that the chain-level ChainRetryWithDifferentParams policy wants a
// whole-chain restart with overrides; Run catches it and loops.
type chainRestart struct {
	params map[string]Value
}

func (chainRestart) Error() string { return "chain: restart requested by error handling policy" }

// Run is the engine's entry point (§6.1): execute_chain(chain, inputs).
// Precondition: chain should already have passed Validate (Run validates
// defensively regardless, since validation failures are fatal and never
// recovered — §7). Postcondition: the returned map equals
// ExecutionContext.outputs at termination, or a structured *Error.
func (e *Engine) Run(ctx context.Context, c *Chain, inputs map[string]Value) (map[string]Value, error) {
	if err := Validate(c); err != nil {
		return nil, err
	}
	plan, err := BuildPlan(c)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	observers := append([]ExecutionObserver(nil), e.observers...)
	evaluators := make(map[string]ConditionEvaluator, len(e.conditionEvaluators))
	for k, v := range e.conditionEvaluators {
		evaluators[k] = v
	}
	errorHandlers := make(map[string]StepErrorHandler, len(e.errorHandlers))
	for k, v := range e.errorHandlers {
		errorHandlers[k] = v
	}
	e.mu.RUnlock()

	overrides := map[string]Value(nil)
	attempt := 0
	maxRestarts := 0
	if c.ErrorHandling.Kind == ChainRetryWithDifferentParams {
		maxRestarts = c.ErrorHandling.MaxRetries
	}

	// runID identifies this Run call end to end (§6.1), including any
	// ChainRetryWithDifferentParams restarts, so an observer shared across
	// concurrent Run calls on the same Engine (§8 invariant 8) can
	// correlate a burst of step events back to the run that produced them.
	runID := uuid.New().String()

	for {
		execCtx := NewExecutionContext(c.ID, mergeInputs(inputs, overrides), c.Variables)

		runCtx := ctx
		var cancel context.CancelFunc
		if c.Timeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		}

		r := &run{
			engine:              e,
			chain:               c,
			plan:                plan,
			execCtx:             execCtx,
			runID:               runID,
			observers:           observers,
			evaluators:          evaluators,
			customErrorHandlers: errorHandlers,
		}
		if c.MaxParallelSteps > 0 {
			r.sem = semaphore.NewWeighted(int64(c.MaxParallelSteps))
		}

		for _, o := range observers {
			o.OnStart(runID, c.ID, execCtx)
		}

		runErr := r.dispatchPlan(runCtx)
		r.bgWG.Wait()
		if cancel != nil {
			cancel()
		}

		if restart, ok := runErr.(chainRestart); ok {
			attempt++
			if attempt > maxRestarts {
				outputs := execCtx.Outputs()
				for _, o := range observers {
					o.OnFinish(runID, outputs, runErr)
				}
				return outputs, newErr(ErrStepExecution, "chain exhausted %d restart attempts under RetryWithDifferentParams", maxRestarts)
			}
			overrides = restart.params
			continue
		}

		outputs := execCtx.Outputs()
		for _, o := range observers {
			o.OnFinish(runID, outputs, runErr)
		}
		if runErr != nil {
			if runCtx.Err() == context.DeadlineExceeded {
				return outputs, newErr(ErrTimeout, "chain execution exceeded timeout of %v", c.Timeout)
			}
			return outputs, runErr
		}
		return outputs, nil
	}
}

func mergeInputs(base map[string]Value, overrides map[string]Value) map[string]Value {
	if len(overrides) == 0 {
		return base
	}
	merged := make(map[string]Value, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// run is the per-execution companion to Engine, created fresh by every
// Run call. It is never shared between goroutines as a whole — its
// ExecutionContext is the one piece concurrent Parallel children
// legitimately share (§5), which is why ExecutionContext (not run) owns
// the mutex.
type run struct {
	engine              *Engine
	chain               *Chain
	plan                *Plan
	execCtx             *ExecutionContext
	runID               string
	observers           []ExecutionObserver
	evaluators          map[string]ConditionEvaluator
	customErrorHandlers map[string]StepErrorHandler

	// sem bounds in-flight Parallel children when chain.MaxParallelSteps
	// is set; nil means unbounded (§5 "Backpressure").
	sem *semaphore.Weighted

	// bgWG tracks Parallel children spawned with wait_for_all=false.
	// Run awaits it after dispatchPlan returns so no executor goroutine
	// outlives the ExecutionContext it closes over (§5).
	bgWG sync.WaitGroup
}

func (r *run) evaluate(c Condition) (bool, error) {
	return Evaluate(c, r.execCtx, r.evaluators)
}

func (r *run) notifyStepStart(id string) {
	for _, o := range r.observers {
		o.OnStepStart(r.runID, id)
	}
}

func (r *run) notifyStepEnd(id string, result StepResult, skipped bool) {
	for _, o := range r.observers {
		o.OnStepEnd(r.runID, id, result, skipped)
	}
}

// acquireParallelSlot blocks until a backpressure slot is available, a
// no-op when the run has no cap configured.
func (r *run) acquireParallelSlot(ctx context.Context) error {
	if r.sem == nil {
		return nil
	}
	return r.sem.Acquire(ctx, 1)
}

func (r *run) releaseParallelSlot() {
	if r.sem == nil {
		return
	}
	r.sem.Release(1)
}

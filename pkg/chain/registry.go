package chain

import (
	"context"
	"fmt"
	"sync"
)

// StepExecutor discharges one leaf step type (§4.3). Implementations must
// not mutate the ExecutionContext directly — they return a StepResult
// whose Outputs the engine writes back via the step's OutputMappings —
// and must honour ctx cancellation when they block on external I/O.
type StepExecutor interface {
	ExecuteStep(ctx context.Context, step *Step, execCtx *ExecutionContext, inputs map[string]Value) StepResult
}

// StepExecutorFunc adapts a plain function to a StepExecutor.
type StepExecutorFunc func(ctx context.Context, step *Step, execCtx *ExecutionContext, inputs map[string]Value) StepResult

func (f StepExecutorFunc) ExecuteStep(ctx context.Context, step *Step, execCtx *ExecutionContext, inputs map[string]Value) StepResult {
	return f(ctx, step, execCtx, inputs)
}

// Registry is a process- or engine-scoped mapping from step-type tag (or,
// for Custom, FunctionCall and ToolUse steps, handler/function/tool name)
// to a StepExecutor (§4.3). Scoped to the
// Engine instance rather than held as global state, so tests can run
// isolated (§9 "Global state").
type Registry struct {
	mu        sync.RWMutex
	byType    map[StepType]StepExecutor
	byHandler map[string]StepExecutor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byType:    make(map[StepType]StepExecutor),
		byHandler: make(map[string]StepExecutor),
	}
}

// Register installs executor for the leaf step type t. Registering for a
// composite type (Conditional/Parallel/Loop) is a programmer error since
// the engine never dispatches those to the registry; Register panics in
// that case to surface the mistake immediately rather than silently
// ignoring the registration.
func (r *Registry) Register(t StepType, executor StepExecutor) {
	if !t.IsLeaf() {
		panic(fmt.Sprintf("chain: cannot register an executor for composite step type %s", t))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[t] = executor
}

// RegisterHandler installs executor under name, which Lookup matches
// against a Custom step's handler name, a FunctionCall's function name, or
// a ToolUse's tool name.
func (r *Registry) RegisterHandler(name string, executor StepExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byHandler[name] = executor
}

// Lookup resolves the executor for a leaf step. StepCustom, FunctionCall
// and ToolUse are all named dispatch: they resolve by handler/function/
// tool name against byHandler before falling back to the type-wide
// executor registered via Register, so an embedding system can either
// register one executor per StepType (e.g. a single router-backed
// FunctionCall executor that switches on name internally) or register
// fine-grained per-name executors via RegisterHandler (as
// NewBuiltinRegistry does for "echo"/"upper"/"sleep"/"http") — or both,
// with the name-specific registration taking precedence.
func (r *Registry) Lookup(step *Step) (StepExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name, ok := namedHandler(step.Body); ok {
		if executor, found := r.byHandler[name]; found {
			return executor, true
		}
	}
	executor, found := r.byType[step.Body.Type()]
	return executor, found
}

// namedHandler extracts the handler/function/tool name a StepBody wants
// to be looked up by, if it has one.
func namedHandler(body StepBody) (string, bool) {
	switch b := body.(type) {
	case Custom:
		return b.HandlerName, true
	case FunctionCall:
		return b.FunctionName, true
	case ToolUse:
		return b.ToolName, true
	default:
		return "", false
	}
}

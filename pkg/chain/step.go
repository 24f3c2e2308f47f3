package chain

import (
	"fmt"
	"time"
)

// Role tags a step with the conversational or functional role it plays,
// mirroring the message roles chain authors are already familiar with from
// LLM chat APIs.
type Role int

const (
	RoleSystem Role = iota
	RoleUser
	RoleAssistant
	RoleFunction
	RoleTool
	RoleCustom
)

func (r Role) String() string {
	switch r {
	case RoleSystem:
		return "system"
	case RoleUser:
		return "user"
	case RoleAssistant:
		return "assistant"
	case RoleFunction:
		return "function"
	case RoleTool:
		return "tool"
	case RoleCustom:
		return "custom"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// StepType tags which concrete StepBody a Step carries. It doubles as the
// wire-format "type" discriminator (§6.3) and as the Step Executor
// Registry's lookup key for leaf step types (§4.3).
type StepType int

const (
	StepLLMInference StepType = iota
	StepFunctionCall
	StepToolUse
	StepConditional
	StepParallel
	StepLoop
	StepCustom
)

func (t StepType) String() string {
	switch t {
	case StepLLMInference:
		return "LLMInference"
	case StepFunctionCall:
		return "FunctionCall"
	case StepToolUse:
		return "ToolUse"
	case StepConditional:
		return "Conditional"
	case StepParallel:
		return "Parallel"
	case StepLoop:
		return "Loop"
	case StepCustom:
		return "Custom"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// IsLeaf reports whether this step type is dispatched through the Step
// Executor Registry (true) or handled internally by the Engine (false, for
// the composite Conditional/Parallel/Loop types).
func (t StepType) IsLeaf() bool {
	switch t {
	case StepConditional, StepParallel, StepLoop:
		return false
	default:
		return true
	}
}

// StepBody is the sum type of a Step's typed payload (§3). Exactly one
// concrete type below implements it per Step.
type StepBody interface {
	// Type returns the discriminator tag for this body.
	Type() StepType
}

// LLMInference invokes a language model.
type LLMInference struct {
	Model         string            `mapstructure:"model"`
	SystemPrompt  string            `mapstructure:"system_prompt"`
	Temperature   *float64          `mapstructure:"temperature"`
	MaxTokens     *int              `mapstructure:"max_tokens"`
	TopP          *float64          `mapstructure:"top_p"`
	StopSequences []string          `mapstructure:"stop_sequences"`
	Extra         map[string]Value  `mapstructure:"extra"`
}

func (LLMInference) Type() StepType { return StepLLMInference }

// FunctionCall invokes a named function from the embedding system's
// function catalogue.
type FunctionCall struct {
	FunctionName string            `mapstructure:"function_name"`
	Arguments    map[string]Value  `mapstructure:"arguments"`
}

func (FunctionCall) Type() StepType { return StepFunctionCall }

// ToolUse invokes a named tool from the embedding system's tool catalogue.
type ToolUse struct {
	ToolName  string            `mapstructure:"tool_name"`
	Arguments map[string]Value  `mapstructure:"arguments"`
}

func (ToolUse) Type() StepType { return StepToolUse }

// Branch is a (condition, target) pair inside a Conditional step.
type Branch struct {
	Condition Condition
	TargetStepID string
}

// Conditional selects exactly one branch target to dispatch, or the
// default branch, or nothing.
type Conditional struct {
	Branches       []Branch
	DefaultBranch  string // empty means no default
}

func (Conditional) Type() StepType { return StepConditional }

// Parallel fans out a set of child steps as concurrent tasks.
type Parallel struct {
	Children   []string
	WaitForAll bool
}

func (Parallel) Type() StepType { return StepParallel }

// Loop repeats a set of child steps, writing the 0-based iteration index
// into IterationVariable on each pass.
type Loop struct {
	IterationVariable string
	MaxIterations     *int // nil means unbounded; validator requires BreakCondition in that case
	Children          []string
	BreakCondition    Condition // zero value (IsZero) means never breaks early
}

func (Loop) Type() StepType { return StepLoop }

// Custom delegates to a named handler registered by the embedding system,
// outside the engine's built-in step types.
type Custom struct {
	HandlerName string            `mapstructure:"handler_name"`
	Config      map[string]Value  `mapstructure:"config"`
}

func (Custom) Type() StepType { return StepCustom }

// RetryPolicy governs automatic retry of a failed leaf step (§7).
type RetryPolicy struct {
	MaxRetries         int
	RetryInterval      time.Duration
	RetryBackoffFactor float64
	// RetryOnErrorCodes, when non-empty, restricts StepExecutionError
	// retries to errors whose message matches one of these codes. Empty
	// means retry on any StepExecutionError. A Timeout is retried either way.
	RetryOnErrorCodes []string
}

// ErrorHandlerKind discriminates ErrorHandler's variants.
type ErrorHandlerKind int

const (
	// ErrorHandlerContinueWithDefault fabricates a StepResult from a fixed
	// value and recovers the step to Succeeded.
	ErrorHandlerContinueWithDefault ErrorHandlerKind = iota
	// ErrorHandlerRetryWithDifferentParams makes one more attempt with the
	// supplied overrides applied to the step body.
	ErrorHandlerRetryWithDifferentParams
	// ErrorHandlerExecuteFallbackStep dispatches a different step instead;
	// its outputs substitute for the failed step's.
	ErrorHandlerExecuteFallbackStep
	// ErrorHandlerCustom delegates to a registered handler.
	ErrorHandlerCustom
)

// ErrorHandler is a step-level recovery policy, consulted after the
// step's RetryPolicy (if any) is exhausted.
type ErrorHandler struct {
	Kind ErrorHandlerKind

	// DefaultValue is used when Kind == ErrorHandlerContinueWithDefault.
	DefaultValue Value

	// Params is used when Kind == ErrorHandlerRetryWithDifferentParams.
	Params map[string]Value

	// FallbackStepID is used when Kind == ErrorHandlerExecuteFallbackStep.
	FallbackStepID string

	// HandlerName and Config are used when Kind == ErrorHandlerCustom.
	HandlerName string
	Config      map[string]Value
}

// Step is a single node in a Chain: metadata common to every step type,
// plus a typed Body (one of the StepBody implementations above) and the
// data mappings that bind it to the chain's shared data space.
type Step struct {
	ID   string
	Name string
	Role Role
	Body StepBody

	// Condition is an optional gate: when set and it evaluates false, the
	// step is skipped (§4.5.2).
	Condition Condition

	RetryPolicy  *RetryPolicy
	Timeout      time.Duration
	ErrorHandler *ErrorHandler

	Inputs  []InputMapping
	Outputs []OutputMapping
}

// StepResult is what a leaf executor (or the engine, for composite/
// recovered steps) produces for one step's completed run (§3). Builder
// methods follow the zero-value-first convention used throughout this
// package: construct a StepResult{} and chain With* calls.
type StepResult struct {
	StepID   string
	Outputs  map[string]Value
	Err      error
	Duration time.Duration
}

// WithError returns a copy of r with Err set. A StepResult carrying a
// non-nil Err is considered failed regardless of its Outputs.
func (r StepResult) WithError(err error) StepResult {
	r.Err = err
	return r
}

// WithOutputs returns a copy of r with Outputs set.
func (r StepResult) WithOutputs(outputs map[string]Value) StepResult {
	r.Outputs = outputs
	return r
}

// WithDuration returns a copy of r with Duration set.
func (r StepResult) WithDuration(d time.Duration) StepResult {
	r.Duration = d
	return r
}

// WithStepID returns a copy of r with StepID set.
func (r StepResult) WithStepID(id string) StepResult {
	r.StepID = id
	return r
}

// Succeeded reports whether the step completed without error.
func (r StepResult) Succeeded() bool { return r.Err == nil }

// DependencyKind discriminates Dependency's gating rule.
type DependencyKind int

const (
	DependencySimple DependencyKind = iota
	DependencyAll
	DependencyAny
	DependencyConditional
)

// Dependency is an edge of the dependency graph: DependentStep becomes
// eligible only once its gating rule over Required/RequiredSet is
// satisfied (§4.5.2).
type Dependency struct {
	DependentStep string
	Kind          DependencyKind

	// Required is used by DependencySimple and DependencyConditional.
	Required string

	// RequiredSet is used by DependencyAll and DependencyAny.
	RequiredSet []string

	// Condition is used by DependencyConditional, evaluated in addition
	// to Required being completed.
	Condition Condition
}

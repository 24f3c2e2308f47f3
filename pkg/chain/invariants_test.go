package chain

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRunNeverPanics covers invariant 1: execute_chain never panics, even
// when asked to run a chain no executor is registered for — it always
// returns either outputs or a structured error.
func TestRunNeverPanics(t *testing.T) {
	c := NewChain("unregistered")
	c.Steps["only"] = &Step{ID: "only", Body: FunctionCall{FunctionName: "does-not-exist"}}

	require.NoError(t, Validate(c))

	engine := NewEngine(NewRegistry())

	assert.NotPanics(t, func() {
		_, err := engine.Run(context.Background(), c, map[string]Value{})
		assert.Error(t, err)
	})
}

// TestDependencyOrdering covers invariant 2: for a dependency A -> B, A's
// completion precedes B's start in any successful run.
func TestDependencyOrdering(t *testing.T) {
	c := NewChain("ordered")
	var mu sync.Mutex
	var order []string
	record := func(stepID string) StepExecutorFunc {
		return StepExecutorFunc(func(ctx context.Context, step *Step, execCtx *ExecutionContext, inputs map[string]Value) StepResult {
			mu.Lock()
			order = append(order, stepID)
			mu.Unlock()
			return StepResult{}
		})
	}

	c.Steps["a"] = &Step{ID: "a", Body: Custom{HandlerName: "a"}}
	c.Steps["b"] = &Step{ID: "b", Body: Custom{HandlerName: "b"}}
	c.Dependencies = []Dependency{{DependentStep: "b", Kind: DependencySimple, Required: "a"}}

	registry := NewRegistry()
	registry.RegisterHandler("a", record("a"))
	registry.RegisterHandler("b", record("b"))

	require.NoError(t, Validate(c))

	engine := NewEngine(registry)
	_, err := engine.Run(context.Background(), c, map[string]Value{})
	require.NoError(t, err)

	require.Equal(t, []string{"a", "b"}, order)
}

// TestPlanIsValidLinearExtension covers invariant 3: BuildPlan's Order is a
// valid topological linear extension of the dependency DAG — every
// dependency's Required step precedes its DependentStep in Order.
func TestPlanIsValidLinearExtension(t *testing.T) {
	c := NewChain("diamond")
	for _, id := range []string{"a", "b", "c", "d"} {
		c.Steps[id] = &Step{ID: id, Body: FunctionCall{FunctionName: "echo", Arguments: map[string]Value{"message": NewString(id)}}}
	}
	c.Dependencies = []Dependency{
		{DependentStep: "b", Kind: DependencySimple, Required: "a"},
		{DependentStep: "c", Kind: DependencySimple, Required: "a"},
		{DependentStep: "d", Kind: DependencyAll, RequiredSet: []string{"b", "c"}},
	}

	require.NoError(t, Validate(c))
	plan, err := BuildPlan(c)
	require.NoError(t, err)

	index := make(map[string]int, len(plan.Order))
	for i, id := range plan.Order {
		index[id] = i
	}

	for _, dep := range c.Dependencies {
		switch dep.Kind {
		case DependencySimple, DependencyConditional:
			assert.Less(t, index[dep.Required], index[dep.DependentStep])
		case DependencyAll, DependencyAny:
			for _, r := range dep.RequiredSet {
				assert.Less(t, index[r], index[dep.DependentStep])
			}
		}
	}
}

// TestValidateRejectsCyclesAndDanglingReferences covers invariant 4.
func TestValidateRejectsCyclesAndDanglingReferences(t *testing.T) {
	t.Run("cycle", func(t *testing.T) {
		c := NewChain("cyclic")
		c.Steps["a"] = &Step{ID: "a", Body: FunctionCall{FunctionName: "echo"}}
		c.Steps["b"] = &Step{ID: "b", Body: FunctionCall{FunctionName: "echo"}}
		c.Dependencies = []Dependency{
			{DependentStep: "a", Kind: DependencySimple, Required: "b"},
			{DependentStep: "b", Kind: DependencySimple, Required: "a"},
		}
		err := Validate(c)
		require.Error(t, err)
		assert.Equal(t, ErrCircularDependency, err.(*Error).Kind)
	})

	t.Run("dangling dependency reference", func(t *testing.T) {
		c := NewChain("dangling")
		c.Steps["a"] = &Step{ID: "a", Body: FunctionCall{FunctionName: "echo"}}
		c.Dependencies = []Dependency{{DependentStep: "a", Kind: DependencySimple, Required: "ghost"}}
		err := Validate(c)
		require.Error(t, err)
		assert.Equal(t, ErrStepNotFound, err.(*Error).Kind)
	})

	t.Run("dangling branch target", func(t *testing.T) {
		c := NewChain("dangling-branch")
		c.Steps["decide"] = &Step{
			ID:   "decide",
			Body: Conditional{DefaultBranch: "ghost"},
		}
		err := Validate(c)
		require.Error(t, err)
		assert.Equal(t, ErrStepNotFound, err.(*Error).Kind)
	})
}

// TestConditionFalseLeavesNoOutputs covers invariant 5: a step whose own
// Condition evaluates false is skipped, and its declared outputs never
// appear in the context.
func TestConditionFalseLeavesNoOutputs(t *testing.T) {
	c := NewChain("gated")
	c.Variables["flag"] = &Variable{Name: "flag", InitialValue: valuePtr(NewBool(false))}
	c.Steps["gated"] = &Step{
		ID:        "gated",
		Body:      FunctionCall{FunctionName: "echo", Arguments: map[string]Value{"message": NewString("should not run")}},
		Condition: Condition{Kind: ConditionEquals, Variable: "flag", Value: NewBool(true)},
		Outputs: []OutputMapping{
			{Name: "msg", Target: OutputTarget{Kind: TargetChainOutput, Name: "out"}},
		},
	}

	require.NoError(t, Validate(c))

	engine := NewEngine(NewBuiltinRegistry())
	outputs, err := engine.Run(context.Background(), c, map[string]Value{})
	require.NoError(t, err)

	_, ok := outputs["out"]
	assert.False(t, ok, "a skipped step must not write its declared outputs")
}

// TestLoopWritesIterationVariableInOrder covers invariant 6, independent of
// S4: a Loop with max_iterations=N and an always-false break_condition
// writes iteration_variable 0..N-1 exactly once each, in order.
func TestLoopWritesIterationVariableInOrder(t *testing.T) {
	c := NewChain("loop-no-break")
	maxIter := 4
	c.Steps["loop"] = &Step{
		ID: "loop",
		Body: Loop{
			IterationVariable: "i",
			MaxIterations:     &maxIter,
			Children:          []string{"record"},
			BreakCondition:    Condition{Kind: ConditionComparison, Left: "1", Op: OpEq, Right: "0"}, // always false
		},
	}
	var seen []float64
	c.Steps["record"] = &Step{ID: "record", Body: Custom{HandlerName: "record"}}

	registry := NewRegistry()
	registry.RegisterHandler("record", StepExecutorFunc(func(ctx context.Context, step *Step, execCtx *ExecutionContext, inputs map[string]Value) StepResult {
		i, _ := execCtx.GetVariable("i")
		n, _ := i.AsFloat64()
		seen = append(seen, n)
		return StepResult{}
	}))

	require.NoError(t, Validate(c))

	engine := NewEngine(registry)
	_, err := engine.Run(context.Background(), c, map[string]Value{})
	require.NoError(t, err)

	require.Len(t, seen, maxIter)
	for i, n := range seen {
		assert.Equal(t, float64(i), n)
	}
}

// TestParallelWaitForAllSurfacesError covers invariant 7, independent of
// S3: Parallel with wait_for_all=true never silently succeeds when a child
// fails.
func TestParallelWaitForAllSurfacesError(t *testing.T) {
	c := NewChain("wait-all")
	c.Steps["ok"] = &Step{ID: "ok", Body: FunctionCall{FunctionName: "echo", Arguments: map[string]Value{"message": NewString("fine")}}}
	c.Steps["fails"] = &Step{ID: "fails", Body: Custom{HandlerName: "always-fails"}}
	c.Steps["p"] = &Step{ID: "p", Body: Parallel{Children: []string{"ok", "fails"}, WaitForAll: true}}

	registry := NewBuiltinRegistry()
	registry.RegisterHandler("always-fails", StepExecutorFunc(func(ctx context.Context, step *Step, execCtx *ExecutionContext, inputs map[string]Value) StepResult {
		return StepResult{}.WithError(stepErr(ErrStepExecution, step.ID, "deliberate failure"))
	}))

	require.NoError(t, Validate(c))

	engine := NewEngine(registry)
	_, err := engine.Run(context.Background(), c, map[string]Value{})
	require.Error(t, err, "a wait_for_all parallel step must not swallow a child error")
}

// TestParallelWaitForAllContinueOnErrorStillRecordsFailure verifies that,
// under a chain-level ContinueOnError policy, a wait_for_all parallel
// child's failure is absorbed (the run continues) but is still recorded by
// an observer rather than silently discarded — ContinueOnError changes
// whether the run aborts, not whether the failure is observable.
func TestParallelWaitForAllContinueOnErrorStillRecordsFailure(t *testing.T) {
	c := NewChain("wait-all-continue")
	c.ErrorHandling = ChainErrorHandling{Kind: ContinueOnError}
	c.Steps["ok"] = &Step{ID: "ok", Body: FunctionCall{FunctionName: "echo", Arguments: map[string]Value{"message": NewString("fine")}}}
	c.Steps["fails"] = &Step{ID: "fails", Body: Custom{HandlerName: "always-fails"}}
	c.Steps["p"] = &Step{ID: "p", Body: Parallel{Children: []string{"ok", "fails"}, WaitForAll: true}}

	registry := NewBuiltinRegistry()
	registry.RegisterHandler("always-fails", StepExecutorFunc(func(ctx context.Context, step *Step, execCtx *ExecutionContext, inputs map[string]Value) StepResult {
		return StepResult{}.WithError(stepErr(ErrStepExecution, step.ID, "deliberate failure"))
	}))

	require.NoError(t, Validate(c))

	recorder := NewDebugRecorder()
	engine := NewEngine(registry)
	engine.AddObserver(recorder)
	_, err := engine.Run(context.Background(), c, map[string]Value{})
	require.NoError(t, err, "ContinueOnError absorbs the child's failure instead of aborting the run")

	var sawFailedChild bool
	for _, rec := range recorder.Records() {
		if rec.StepID == "fails" && rec.Err != nil {
			sawFailedChild = true
		}
	}
	assert.True(t, sawFailedChild, "the child's failure must still be observable, not discarded")
}

// TestContextIsolationAcrossConcurrentRuns covers invariant 8: two
// concurrent Engine.Run calls against the same *Chain value never observe
// each other's inputs or variable writes.
func TestContextIsolationAcrossConcurrentRuns(t *testing.T) {
	c := NewChain("isolated")
	c.Steps["echo"] = &Step{
		ID:   "echo",
		Body: FunctionCall{FunctionName: "echo"},
		Inputs: []InputMapping{
			{Name: "message", Source: InputSource{Kind: SourceChainInput, Name: "who"}, Required: true},
		},
		Outputs: []OutputMapping{
			{Name: "msg", Target: OutputTarget{Kind: TargetChainOutput, Name: "greeting"}},
		},
	}
	require.NoError(t, Validate(c))

	engine := NewEngine(NewBuiltinRegistry())

	const runs = 20
	var wg sync.WaitGroup
	results := make([]map[string]Value, runs)
	errs := make([]error, runs)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			who := NewString(idString(i))
			results[i], errs[i] = engine.Run(context.Background(), c, map[string]Value{"who": who})
		}(i)
	}
	wg.Wait()

	for i := 0; i < runs; i++ {
		require.NoError(t, errs[i])
		got, ok := results[i]["greeting"].AsString()
		require.True(t, ok)
		assert.Equal(t, idString(i), got)
	}
}

func idString(i int) string {
	return "runner-" + strconv.Itoa(i)
}

// TestSerializeParseRoundTrip covers the round-trip property: parsing the
// JSON (and YAML) serialization of a Chain reproduces a structurally
// equivalent Chain, exercised against one instance of every step type and
// composite.
func TestSerializeParseRoundTrip(t *testing.T) {
	c := buildRoundTripChain()

	t.Run("JSON", func(t *testing.T) {
		data, err := SerializeJSON(c)
		require.NoError(t, err)

		got, err := ParseJSON(data)
		require.NoError(t, err)

		assertChainsEqual(t, c, got)
	})

	t.Run("YAML", func(t *testing.T) {
		data, err := SerializeYAML(c)
		require.NoError(t, err)

		got, err := ParseYAML(data)
		require.NoError(t, err)

		assertChainsEqual(t, c, got)
	})
}

func buildRoundTripChain() *Chain {
	c := NewChain("round-trip")
	c.Timeout = 5 * time.Second
	c.MaxParallelSteps = 3
	c.ErrorHandling = ChainErrorHandling{Kind: ContinueOnError}

	c.Variables["n"] = &Variable{Name: "n", Type: "number", InitialValue: valuePtr(NewNumber(1)), Required: true}

	maxIter := 2
	c.Steps["infer"] = &Step{
		ID:   "infer",
		Name: "Infer",
		Role: RoleAssistant,
		Body: LLMInference{
			Model:        "gpt-test",
			SystemPrompt: "be terse",
			Temperature:  floatPtr(0.2),
			MaxTokens:    intPtr(256),
			StopSequences: []string{"\n\n"},
			Extra:        map[string]Value{"seed": NewNumber(7)},
		},
		Timeout:     2 * time.Second,
		RetryPolicy: &RetryPolicy{MaxRetries: 1, RetryInterval: time.Second, RetryBackoffFactor: 2},
		ErrorHandler: &ErrorHandler{
			Kind:         ErrorHandlerContinueWithDefault,
			DefaultValue: NewObject(map[string]Value{"text": NewString("fallback")}),
		},
		Inputs: []InputMapping{
			{Name: "prompt", Source: InputSource{Kind: SourceChainInput, Name: "topic"}, Required: true,
				Transform: &Transform{Kind: TransformTemplate, Template: "about {{value}}"}},
		},
		Outputs: []OutputMapping{
			{Name: "text", Target: OutputTarget{Kind: TargetVariable, Name: "n"}},
		},
	}
	c.Steps["call"] = &Step{ID: "call", Body: FunctionCall{FunctionName: "lookup", Arguments: map[string]Value{"key": NewString("x")}}}
	c.Steps["tool"] = &Step{ID: "tool", Body: ToolUse{ToolName: "search", Arguments: map[string]Value{"q": NewString("golang")}}}
	c.Steps["custom"] = &Step{ID: "custom", Body: Custom{HandlerName: "hook", Config: map[string]Value{"level": NewNumber(3)}}}

	c.Steps["decide"] = &Step{
		ID: "decide",
		Body: Conditional{
			Branches: []Branch{
				{Condition: Condition{Kind: ConditionAnd, Operands: []Condition{
					{Kind: ConditionComparison, Left: "{{n}}", Op: OpGte, Right: "1"},
					{Kind: ConditionNot, Operands: []Condition{{Kind: ConditionEquals, Variable: "n", Value: NewNumber(0)}}},
				}}, TargetStepID: "call"},
			},
			DefaultBranch: "tool",
		},
	}
	c.Steps["parallel"] = &Step{ID: "parallel", Body: Parallel{Children: []string{"call", "tool"}, WaitForAll: true}}
	c.Steps["loop"] = &Step{
		ID: "loop",
		Body: Loop{
			IterationVariable: "i",
			MaxIterations:     &maxIter,
			Children:          []string{"custom"},
			BreakCondition:    Condition{Kind: ConditionComparison, Left: "{{i}}", Op: OpGte, Right: "2"},
		},
	}

	c.Dependencies = []Dependency{
		{DependentStep: "decide", Kind: DependencySimple, Required: "infer"},
		{DependentStep: "parallel", Kind: DependencyAll, RequiredSet: []string{"decide"}},
		{DependentStep: "loop", Kind: DependencyConditional, Required: "parallel",
			Condition: Condition{Kind: ConditionRegex, Variable: "n", Pattern: "^[0-9]+$"}},
	}
	return c
}

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }

func assertChainsEqual(t *testing.T, want, got *Chain) {
	t.Helper()
	require.Equal(t, want.ID, got.ID)
	require.Equal(t, want.Timeout, got.Timeout)
	require.Equal(t, want.MaxParallelSteps, got.MaxParallelSteps)
	require.Equal(t, want.ErrorHandling, got.ErrorHandling)
	require.Equal(t, len(want.Steps), len(got.Steps))
	require.ElementsMatch(t, want.Dependencies, got.Dependencies)

	for id, wantStep := range want.Steps {
		gotStep, ok := got.Steps[id]
		require.True(t, ok, "missing step %q after round trip", id)
		assert.Equal(t, wantStep.ID, gotStep.ID)
		assert.Equal(t, wantStep.Name, gotStep.Name)
		assert.Equal(t, wantStep.Role, gotStep.Role)
		assert.Equal(t, wantStep.Condition, gotStep.Condition)
		assert.Equal(t, wantStep.Timeout, gotStep.Timeout)
		assert.Equal(t, wantStep.RetryPolicy, gotStep.RetryPolicy)
		assert.Equal(t, wantStep.ErrorHandler, gotStep.ErrorHandler)
		assert.ElementsMatch(t, wantStep.Inputs, gotStep.Inputs)
		assert.ElementsMatch(t, wantStep.Outputs, gotStep.Outputs)
		assert.Equal(t, wantStep.Body, gotStep.Body)
	}

	for name, wantVar := range want.Variables {
		gotVar, ok := got.Variables[name]
		require.True(t, ok, "missing variable %q after round trip", name)
		assert.Equal(t, wantVar, gotVar)
	}
}

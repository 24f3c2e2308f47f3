package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestResolveInputsSources covers §4.2's five InputSource kinds in
// isolation, independent of a full Engine run.
func TestResolveInputsSources(t *testing.T) {
	ctx := NewExecutionContext("c", map[string]Value{"who": NewString("world")}, map[string]*Variable{
		"n": {Name: "n", InitialValue: valuePtr(NewNumber(3))},
	})
	ctx.SetStepResult("prior", StepResult{}.WithOutputs(map[string]Value{"msg": NewString("hi")}))

	tests := []struct {
		name    string
		mapping InputMapping
		want    Value
	}{
		{
			name:    "chain input",
			mapping: InputMapping{Name: "a", Source: InputSource{Kind: SourceChainInput, Name: "who"}, Required: true},
			want:    NewString("world"),
		},
		{
			name:    "variable",
			mapping: InputMapping{Name: "a", Source: InputSource{Kind: SourceVariable, Name: "n"}, Required: true},
			want:    NewNumber(3),
		},
		{
			name:    "step output",
			mapping: InputMapping{Name: "a", Source: InputSource{Kind: SourceStepOutput, StepID: "prior", Name: "msg"}, Required: true},
			want:    NewString("hi"),
		},
		{
			name:    "literal",
			mapping: InputMapping{Name: "a", Source: InputSource{Kind: SourceLiteral, Literal: NewBool(true)}, Required: true},
			want:    NewBool(true),
		},
		{
			name:    "template",
			mapping: InputMapping{Name: "a", Source: InputSource{Kind: SourceTemplate, Template: "hello {{n}}"}, Required: true},
			want:    NewString("hello 3"),
		},
	}

	r := NewResolver()
	step := &Step{ID: "s"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step.Inputs = []InputMapping{tt.mapping}
			out, err := r.ResolveInputs(step, ctx)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(out["a"]))
		})
	}
}

// TestResolveInputsDefaultAndRequired covers §4.2's missing-source handling:
// a Default is substituted when present, an unfound Required input is an
// error, and an unfound optional input is simply left absent.
func TestResolveInputsDefaultAndRequired(t *testing.T) {
	ctx := NewExecutionContext("c", nil, nil)
	r := NewResolver()

	t.Run("default substitutes a missing source", func(t *testing.T) {
		def := NewString("fallback")
		step := &Step{ID: "s", Inputs: []InputMapping{
			{Name: "a", Source: InputSource{Kind: SourceVariable, Name: "ghost"}, Default: &def},
		}}
		out, err := r.ResolveInputs(step, ctx)
		require.NoError(t, err)
		got, ok := out["a"].AsString()
		require.True(t, ok)
		assert.Equal(t, "fallback", got)
	})

	t.Run("required and missing is an error", func(t *testing.T) {
		step := &Step{ID: "s", Inputs: []InputMapping{
			{Name: "a", Source: InputSource{Kind: SourceVariable, Name: "ghost"}, Required: true},
		}}
		_, err := r.ResolveInputs(step, ctx)
		require.Error(t, err)
		assert.Equal(t, ErrVariableNotFound, err.(*Error).Kind)
	})

	t.Run("optional and missing is silently absent", func(t *testing.T) {
		step := &Step{ID: "s", Inputs: []InputMapping{
			{Name: "a", Source: InputSource{Kind: SourceVariable, Name: "ghost"}},
		}}
		out, err := r.ResolveInputs(step, ctx)
		require.NoError(t, err)
		_, ok := out["a"]
		assert.False(t, ok)
	})
}

// TestResolveInputsStepInputOverride covers §4.2/§9's StepInput side table:
// a prior step's OutputMapping with a StepInput target late-binds an input,
// taking precedence over the mapping's own declared Source.
func TestResolveInputsStepInputOverride(t *testing.T) {
	ctx := NewExecutionContext("c", map[string]Value{"direct": NewString("ignored")}, nil)
	ctx.SetStepInput("s2", "a", NewString("late-bound"))

	r := NewResolver()
	step := &Step{ID: "s2", Inputs: []InputMapping{
		{Name: "a", Source: InputSource{Kind: SourceChainInput, Name: "direct"}, Required: true},
	}}
	out, err := r.ResolveInputs(step, ctx)
	require.NoError(t, err)
	got, ok := out["a"].AsString()
	require.True(t, ok)
	assert.Equal(t, "late-bound", got)
}

// TestResolveInputsAppliesTransform covers transform application after
// source resolution, inside ResolveInputs rather than as a standalone
// ApplyTransform call.
func TestResolveInputsAppliesTransform(t *testing.T) {
	ctx := NewExecutionContext("c", map[string]Value{"name": NewString("ada")}, nil)
	r := NewResolver()
	step := &Step{ID: "s", Inputs: []InputMapping{
		{
			Name:      "greeting",
			Source:    InputSource{Kind: SourceChainInput, Name: "name"},
			Required:  true,
			Transform: &Transform{Kind: TransformTemplate, Template: "hi {{value}}"},
		},
	}}
	out, err := r.ResolveInputs(step, ctx)
	require.NoError(t, err)
	got, ok := out["greeting"].AsString()
	require.True(t, ok)
	assert.Equal(t, "hi ada", got)
}

// TestWriteOutputsTargetsAndMissing covers §4.2's "Write outputs" rules: a
// missing declared output is an error, and each OutputTargetKind routes to
// the right side of the context.
func TestWriteOutputsTargetsAndMissing(t *testing.T) {
	r := NewResolver()

	t.Run("missing declared output is an error", func(t *testing.T) {
		ctx := NewExecutionContext("c", nil, nil)
		step := &Step{ID: "s", Outputs: []OutputMapping{
			{Name: "out", Target: OutputTarget{Kind: TargetChainOutput, Name: "x"}},
		}}
		err := r.WriteOutputs(step, StepResult{}, ctx)
		require.Error(t, err)
		assert.Equal(t, ErrVariableNotFound, err.(*Error).Kind)
	})

	t.Run("routes to variable, chain output and step input targets", func(t *testing.T) {
		ctx := NewExecutionContext("c", nil, nil)
		step := &Step{ID: "s1", Outputs: []OutputMapping{
			{Name: "a", Target: OutputTarget{Kind: TargetVariable, Name: "v"}},
			{Name: "b", Target: OutputTarget{Kind: TargetChainOutput, Name: "out"}},
			{Name: "c", Target: OutputTarget{Kind: TargetStepInput, StepID: "s2", Name: "in"}},
		}}
		result := StepResult{}.WithOutputs(map[string]Value{
			"a": NewNumber(1),
			"b": NewString("two"),
			"c": NewBool(true),
		})
		require.NoError(t, r.WriteOutputs(step, result, ctx))

		v, ok := ctx.GetVariable("v")
		require.True(t, ok)
		assert.True(t, NewNumber(1).Equal(v))

		out, ok := ctx.GetOutput("out")
		require.True(t, ok)
		got, _ := out.AsString()
		assert.Equal(t, "two", got)

		si, ok := ctx.GetStepInput("s2", "in")
		require.True(t, ok)
		b, _ := si.AsBool()
		assert.True(t, b)
	})
}

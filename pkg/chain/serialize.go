package chain

import (
	"encoding/json"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// This file implements §6.3's wire format: every sum type serializes as a
// {"type"/"kind": "...", ...payload} discriminated union. A chainDoc tree
// mirrors the wire shape with string discriminators and json.Number-free
// interface{} payloads; docToChain/chainToDoc convert it to and from the
// typed Chain graph the engine runs against.

// ParseJSON decodes a chain definition from JSON (§6.3).
func ParseJSON(data []byte) (*Chain, error) {
	var doc chainDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, wrapErr(ErrSerialization, "", err, "failed to parse chain JSON")
	}
	return docToChain(doc)
}

// SerializeJSON encodes a chain definition to JSON.
func SerializeJSON(c *Chain) ([]byte, error) {
	data, err := json.MarshalIndent(chainToDoc(c), "", "  ")
	if err != nil {
		return nil, wrapErr(ErrSerialization, "", err, "failed to serialize chain to JSON")
	}
	return data, nil
}

// ParseYAML decodes a chain definition from YAML (§6.3).
func ParseYAML(data []byte) (*Chain, error) {
	var doc chainDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, wrapErr(ErrSerialization, "", err, "failed to parse chain YAML")
	}
	return docToChain(doc)
}

// SerializeYAML encodes a chain definition to YAML.
func SerializeYAML(c *Chain) ([]byte, error) {
	data, err := yaml.Marshal(chainToDoc(c))
	if err != nil {
		return nil, wrapErr(ErrSerialization, "", err, "failed to serialize chain to YAML")
	}
	return data, nil
}

// --- document shapes -------------------------------------------------

type chainDoc struct {
	ID               string                    `json:"id" yaml:"id"`
	Steps            map[string]stepDoc        `json:"steps" yaml:"steps"`
	Dependencies     []dependencyDoc           `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Variables        map[string]variableDoc    `json:"variables,omitempty" yaml:"variables,omitempty"`
	ErrorHandling    chainErrorHandlingDoc     `json:"error_handling" yaml:"error_handling"`
	TimeoutMS        int64                     `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	MaxParallelSteps int                       `json:"max_parallel_steps,omitempty" yaml:"max_parallel_steps,omitempty"`
}

type stepDoc struct {
	ID           string                 `json:"id" yaml:"id"`
	Name         string                 `json:"name,omitempty" yaml:"name,omitempty"`
	Role         string                 `json:"role,omitempty" yaml:"role,omitempty"`
	Type         string                 `json:"type" yaml:"type"`
	Config       map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
	Conditional  *conditionalDoc        `json:"conditional,omitempty" yaml:"conditional,omitempty"`
	Parallel     *parallelDoc           `json:"parallel,omitempty" yaml:"parallel,omitempty"`
	Loop         *loopDoc               `json:"loop,omitempty" yaml:"loop,omitempty"`
	Condition    *conditionDoc          `json:"condition,omitempty" yaml:"condition,omitempty"`
	RetryPolicy  *retryPolicyDoc        `json:"retry_policy,omitempty" yaml:"retry_policy,omitempty"`
	TimeoutMS    int64                  `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	ErrorHandler *errorHandlerDoc       `json:"error_handler,omitempty" yaml:"error_handler,omitempty"`
	Inputs       []inputMappingDoc      `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs      []outputMappingDoc     `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

type conditionalDoc struct {
	Branches      []branchDoc `json:"branches" yaml:"branches"`
	DefaultBranch string      `json:"default_branch,omitempty" yaml:"default_branch,omitempty"`
}

type branchDoc struct {
	Condition    conditionDoc `json:"condition" yaml:"condition"`
	TargetStepID string       `json:"target_step_id" yaml:"target_step_id"`
}

type parallelDoc struct {
	Children   []string `json:"children" yaml:"children"`
	WaitForAll bool     `json:"wait_for_all" yaml:"wait_for_all"`
}

type loopDoc struct {
	IterationVariable string        `json:"iteration_variable" yaml:"iteration_variable"`
	MaxIterations     *int          `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	Children          []string      `json:"children" yaml:"children"`
	BreakCondition    *conditionDoc `json:"break_condition,omitempty" yaml:"break_condition,omitempty"`
}

type conditionDoc struct {
	Kind            string                 `json:"kind" yaml:"kind"`
	Variable        string                 `json:"variable,omitempty" yaml:"variable,omitempty"`
	Value           interface{}            `json:"value,omitempty" yaml:"value,omitempty"`
	Pattern         string                 `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Left            string                 `json:"left,omitempty" yaml:"left,omitempty"`
	Op              string                 `json:"op,omitempty" yaml:"op,omitempty"`
	Right           string                 `json:"right,omitempty" yaml:"right,omitempty"`
	Expr            string                 `json:"expr,omitempty" yaml:"expr,omitempty"`
	Operands        []conditionDoc         `json:"operands,omitempty" yaml:"operands,omitempty"`
	CustomEvaluator string                 `json:"custom_evaluator,omitempty" yaml:"custom_evaluator,omitempty"`
	CustomParams    map[string]interface{} `json:"custom_params,omitempty" yaml:"custom_params,omitempty"`
}

type retryPolicyDoc struct {
	MaxRetries         int      `json:"max_retries" yaml:"max_retries"`
	RetryIntervalMS    int64    `json:"retry_interval_ms" yaml:"retry_interval_ms"`
	RetryBackoffFactor float64  `json:"retry_backoff_factor" yaml:"retry_backoff_factor"`
	RetryOnErrorCodes  []string `json:"retry_on_error_codes,omitempty" yaml:"retry_on_error_codes,omitempty"`
}

type errorHandlerDoc struct {
	Kind           string                 `json:"kind" yaml:"kind"`
	DefaultValue   interface{}            `json:"default_value,omitempty" yaml:"default_value,omitempty"`
	Params         map[string]interface{} `json:"params,omitempty" yaml:"params,omitempty"`
	FallbackStepID string                 `json:"fallback_step_id,omitempty" yaml:"fallback_step_id,omitempty"`
	HandlerName    string                 `json:"handler_name,omitempty" yaml:"handler_name,omitempty"`
	Config         map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
}

type inputMappingDoc struct {
	Name      string         `json:"name" yaml:"name"`
	Source    inputSourceDoc `json:"source" yaml:"source"`
	Transform *transformDoc  `json:"transform,omitempty" yaml:"transform,omitempty"`
	Required  bool           `json:"required,omitempty" yaml:"required,omitempty"`
	Default   interface{}    `json:"default,omitempty" yaml:"default,omitempty"`
}

type inputSourceDoc struct {
	Kind     string      `json:"kind" yaml:"kind"`
	Name     string      `json:"name,omitempty" yaml:"name,omitempty"`
	StepID   string      `json:"step_id,omitempty" yaml:"step_id,omitempty"`
	Literal  interface{} `json:"literal,omitempty" yaml:"literal,omitempty"`
	Template string      `json:"template,omitempty" yaml:"template,omitempty"`
}

type outputMappingDoc struct {
	Name      string        `json:"name" yaml:"name"`
	Target    outputTargetDoc `json:"target" yaml:"target"`
	Transform *transformDoc `json:"transform,omitempty" yaml:"transform,omitempty"`
}

type outputTargetDoc struct {
	Kind   string `json:"kind" yaml:"kind"`
	Name   string `json:"name,omitempty" yaml:"name,omitempty"`
	StepID string `json:"step_id,omitempty" yaml:"step_id,omitempty"`
}

type transformDoc struct {
	Kind          string                 `json:"kind" yaml:"kind"`
	Path          string                 `json:"path,omitempty" yaml:"path,omitempty"`
	Pattern       string                 `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Group         *int                   `json:"group,omitempty" yaml:"group,omitempty"`
	Template      string                 `json:"template,omitempty" yaml:"template,omitempty"`
	Mappings      map[string]interface{} `json:"mappings,omitempty" yaml:"mappings,omitempty"`
	MapDefault    interface{}            `json:"map_default,omitempty" yaml:"map_default,omitempty"`
	CustomHandler string                 `json:"custom_handler,omitempty" yaml:"custom_handler,omitempty"`
	CustomConfig  map[string]interface{} `json:"custom_config,omitempty" yaml:"custom_config,omitempty"`
}

type dependencyDoc struct {
	DependentStep string        `json:"dependent_step" yaml:"dependent_step"`
	Kind          string        `json:"kind" yaml:"kind"`
	Required      string        `json:"required,omitempty" yaml:"required,omitempty"`
	RequiredSet   []string      `json:"required_set,omitempty" yaml:"required_set,omitempty"`
	Condition     *conditionDoc `json:"condition,omitempty" yaml:"condition,omitempty"`
}

type variableDoc struct {
	Type         string      `json:"type,omitempty" yaml:"type,omitempty"`
	InitialValue interface{} `json:"initial_value,omitempty" yaml:"initial_value,omitempty"`
	Required     bool        `json:"required,omitempty" yaml:"required,omitempty"`
}

type chainErrorHandlingDoc struct {
	Kind       string                 `json:"kind" yaml:"kind"`
	MaxRetries int                    `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	Params     map[string]interface{} `json:"params,omitempty" yaml:"params,omitempty"`
}

// --- Chain <-> chainDoc ------------------------------------------------

func chainToDoc(c *Chain) chainDoc {
	steps := make(map[string]stepDoc, len(c.Steps))
	for id, step := range c.Steps {
		steps[id] = stepToDoc(step)
	}
	deps := make([]dependencyDoc, len(c.Dependencies))
	for i, d := range c.Dependencies {
		deps[i] = dependencyToDoc(d)
	}
	vars := make(map[string]variableDoc, len(c.Variables))
	for name, v := range c.Variables {
		vd := variableDoc{Type: v.Type, Required: v.Required}
		if v.InitialValue != nil {
			vd.InitialValue = v.InitialValue.Raw()
		}
		vars[name] = vd
	}
	return chainDoc{
		ID:               c.ID,
		Steps:            steps,
		Dependencies:     deps,
		Variables:        vars,
		ErrorHandling:    chainErrorHandlingToDoc(c.ErrorHandling),
		TimeoutMS:        c.Timeout.Milliseconds(),
		MaxParallelSteps: c.MaxParallelSteps,
	}
}

func docToChain(doc chainDoc) (*Chain, error) {
	c := NewChain(doc.ID)
	c.Timeout = time.Duration(doc.TimeoutMS) * time.Millisecond
	c.MaxParallelSteps = doc.MaxParallelSteps

	eh, err := docToChainErrorHandling(doc.ErrorHandling)
	if err != nil {
		return nil, err
	}
	c.ErrorHandling = eh

	for name, vd := range doc.Variables {
		v := &Variable{Name: name, Type: vd.Type, Required: vd.Required}
		if vd.InitialValue != nil {
			val := FromAny(vd.InitialValue)
			v.InitialValue = &val
		}
		c.Variables[name] = v
	}

	for id, sd := range doc.Steps {
		step, err := docToStep(id, sd)
		if err != nil {
			return nil, err
		}
		c.Steps[id] = step
	}

	for _, dd := range doc.Dependencies {
		dep, err := docToDependency(dd)
		if err != nil {
			return nil, err
		}
		c.Dependencies = append(c.Dependencies, dep)
	}

	return c, nil
}

// --- Step <-> stepDoc ----------------------------------------------------

func stepToDoc(s *Step) stepDoc {
	d := stepDoc{
		ID:        s.ID,
		Name:      s.Name,
		Role:      s.Role.String(),
		Type:      s.Body.Type().String(),
		TimeoutMS: s.Timeout.Milliseconds(),
	}
	if !s.Condition.IsZero() {
		cd := conditionToDoc(s.Condition)
		d.Condition = &cd
	}
	if s.RetryPolicy != nil {
		d.RetryPolicy = &retryPolicyDoc{
			MaxRetries:         s.RetryPolicy.MaxRetries,
			RetryIntervalMS:    s.RetryPolicy.RetryInterval.Milliseconds(),
			RetryBackoffFactor: s.RetryPolicy.RetryBackoffFactor,
			RetryOnErrorCodes:  s.RetryPolicy.RetryOnErrorCodes,
		}
	}
	if s.ErrorHandler != nil {
		d.ErrorHandler = errorHandlerToDoc(s.ErrorHandler)
	}
	for _, in := range s.Inputs {
		d.Inputs = append(d.Inputs, inputMappingToDoc(in))
	}
	for _, out := range s.Outputs {
		d.Outputs = append(d.Outputs, outputMappingToDoc(out))
	}

	switch body := s.Body.(type) {
	case Conditional:
		cdoc := conditionalDoc{DefaultBranch: body.DefaultBranch}
		for _, b := range body.Branches {
			cdoc.Branches = append(cdoc.Branches, branchDoc{Condition: conditionToDoc(b.Condition), TargetStepID: b.TargetStepID})
		}
		d.Conditional = &cdoc
	case Parallel:
		d.Parallel = &parallelDoc{Children: body.Children, WaitForAll: body.WaitForAll}
	case Loop:
		ld := loopDoc{IterationVariable: body.IterationVariable, MaxIterations: body.MaxIterations, Children: body.Children}
		if !body.BreakCondition.IsZero() {
			bc := conditionToDoc(body.BreakCondition)
			ld.BreakCondition = &bc
		}
		d.Loop = &ld
	default:
		d.Config = stepConfigToMap(body)
	}
	return d
}

func stepConfigToMap(body StepBody) map[string]interface{} {
	switch b := body.(type) {
	case LLMInference:
		m := map[string]interface{}{
			"model":         b.Model,
			"system_prompt": b.SystemPrompt,
		}
		if b.Temperature != nil {
			m["temperature"] = *b.Temperature
		}
		if b.MaxTokens != nil {
			m["max_tokens"] = *b.MaxTokens
		}
		if b.TopP != nil {
			m["top_p"] = *b.TopP
		}
		if len(b.StopSequences) > 0 {
			m["stop_sequences"] = b.StopSequences
		}
		if len(b.Extra) > 0 {
			m["extra"] = valueMapToRaw(b.Extra)
		}
		return m
	case FunctionCall:
		return map[string]interface{}{"function_name": b.FunctionName, "arguments": valueMapToRaw(b.Arguments)}
	case ToolUse:
		return map[string]interface{}{"tool_name": b.ToolName, "arguments": valueMapToRaw(b.Arguments)}
	case Custom:
		return map[string]interface{}{"handler_name": b.HandlerName, "config": valueMapToRaw(b.Config)}
	default:
		return nil
	}
}

func valueMapToRaw(m map[string]Value) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v.Raw()
	}
	return out
}

func docToStep(id string, d stepDoc) (*Step, error) {
	role, err := parseRole(d.Role)
	if err != nil {
		return nil, stepErr(ErrSerialization, id, "%v", err)
	}
	body, err := docToStepBody(id, d)
	if err != nil {
		return nil, err
	}

	step := &Step{
		ID:     id,
		Name:   d.Name,
		Role:   role,
		Body:   body,
		Timeout: time.Duration(d.TimeoutMS) * time.Millisecond,
	}

	if d.Condition != nil {
		cond, err := docToCondition(*d.Condition)
		if err != nil {
			return nil, err
		}
		step.Condition = cond
	}
	if d.RetryPolicy != nil {
		step.RetryPolicy = &RetryPolicy{
			MaxRetries:         d.RetryPolicy.MaxRetries,
			RetryInterval:      time.Duration(d.RetryPolicy.RetryIntervalMS) * time.Millisecond,
			RetryBackoffFactor: d.RetryPolicy.RetryBackoffFactor,
			RetryOnErrorCodes:  d.RetryPolicy.RetryOnErrorCodes,
		}
	}
	if d.ErrorHandler != nil {
		eh, err := docToErrorHandler(*d.ErrorHandler)
		if err != nil {
			return nil, err
		}
		step.ErrorHandler = eh
	}
	for _, in := range d.Inputs {
		mapping, err := docToInputMapping(in)
		if err != nil {
			return nil, err
		}
		step.Inputs = append(step.Inputs, mapping)
	}
	for _, out := range d.Outputs {
		mapping, err := docToOutputMapping(out)
		if err != nil {
			return nil, err
		}
		step.Outputs = append(step.Outputs, mapping)
	}
	return step, nil
}

// valueDecodeHookFunc lets mapstructure populate map[string]Value fields
// (FunctionCall.Arguments, ToolUse.Arguments, Custom.Config, LLMInference.Extra)
// straight from the generic interface{} trees json.Unmarshal/yaml.Unmarshal
// produce, reusing Value's own FromAny conversion.
func valueDecodeHookFunc(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to == reflect.TypeOf(Value{}) {
		return FromAny(data), nil
	}
	return data, nil
}

func decodeStepConfig(config map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       valueDecodeHookFunc,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return wrapErr(ErrSerialization, "", err, "failed to build step config decoder")
	}
	if err := decoder.Decode(config); err != nil {
		return wrapErr(ErrSerialization, "", err, "failed to decode step config")
	}
	return nil
}

func docToStepBody(stepID string, d stepDoc) (StepBody, error) {
	t, err := parseStepType(d.Type)
	if err != nil {
		return nil, stepErr(ErrSerialization, stepID, "%v", err)
	}
	switch t {
	case StepLLMInference:
		var body LLMInference
		if err := decodeStepConfig(d.Config, &body); err != nil {
			return nil, err
		}
		return body, nil
	case StepFunctionCall:
		var body FunctionCall
		if err := decodeStepConfig(d.Config, &body); err != nil {
			return nil, err
		}
		return body, nil
	case StepToolUse:
		var body ToolUse
		if err := decodeStepConfig(d.Config, &body); err != nil {
			return nil, err
		}
		return body, nil
	case StepCustom:
		var body Custom
		if err := decodeStepConfig(d.Config, &body); err != nil {
			return nil, err
		}
		return body, nil
	case StepConditional:
		if d.Conditional == nil {
			return nil, stepErr(ErrSerialization, stepID, "Conditional step %q missing conditional payload", stepID)
		}
		branches := make([]Branch, len(d.Conditional.Branches))
		for i, b := range d.Conditional.Branches {
			cond, err := docToCondition(b.Condition)
			if err != nil {
				return nil, err
			}
			branches[i] = Branch{Condition: cond, TargetStepID: b.TargetStepID}
		}
		return Conditional{Branches: branches, DefaultBranch: d.Conditional.DefaultBranch}, nil
	case StepParallel:
		if d.Parallel == nil {
			return nil, stepErr(ErrSerialization, stepID, "Parallel step %q missing parallel payload", stepID)
		}
		return Parallel{Children: d.Parallel.Children, WaitForAll: d.Parallel.WaitForAll}, nil
	case StepLoop:
		if d.Loop == nil {
			return nil, stepErr(ErrSerialization, stepID, "Loop step %q missing loop payload", stepID)
		}
		loop := Loop{IterationVariable: d.Loop.IterationVariable, MaxIterations: d.Loop.MaxIterations, Children: d.Loop.Children}
		if d.Loop.BreakCondition != nil {
			cond, err := docToCondition(*d.Loop.BreakCondition)
			if err != nil {
				return nil, err
			}
			loop.BreakCondition = cond
		}
		return loop, nil
	default:
		return nil, stepErr(ErrSerialization, stepID, "unhandled step type %q", d.Type)
	}
}

// --- Condition <-> conditionDoc ------------------------------------------

func conditionToDoc(c Condition) conditionDoc {
	d := conditionDoc{
		Kind:            conditionKindName(c.Kind),
		Variable:        c.Variable,
		Pattern:         c.Pattern,
		Left:            c.Left,
		Right:           c.Right,
		Expr:            c.Expr,
		CustomEvaluator: c.CustomEvaluator,
	}
	if !c.Value.IsNull() {
		d.Value = c.Value.Raw()
	}
	if c.Op != 0 || c.Kind == ConditionComparison {
		d.Op = c.Op.String()
	}
	for _, op := range c.Operands {
		d.Operands = append(d.Operands, conditionToDoc(op))
	}
	if len(c.CustomParams) > 0 {
		d.CustomParams = valueMapToRaw(c.CustomParams)
	}
	return d
}

func docToCondition(d conditionDoc) (Condition, error) {
	kind, err := parseConditionKind(d.Kind)
	if err != nil {
		return Condition{}, newErr(ErrSerialization, "%v", err)
	}
	c := Condition{
		Kind:            kind,
		Variable:        d.Variable,
		Pattern:         d.Pattern,
		Left:            d.Left,
		Right:           d.Right,
		Expr:            d.Expr,
		CustomEvaluator: d.CustomEvaluator,
	}
	if d.Value != nil {
		c.Value = FromAny(d.Value)
	}
	if d.Op != "" {
		op, err := parseComparisonOp(d.Op)
		if err != nil {
			return Condition{}, newErr(ErrSerialization, "%v", err)
		}
		c.Op = op
	}
	for _, op := range d.Operands {
		operand, err := docToCondition(op)
		if err != nil {
			return Condition{}, err
		}
		c.Operands = append(c.Operands, operand)
	}
	if len(d.CustomParams) > 0 {
		c.CustomParams = rawMapToValue(d.CustomParams)
	}
	return c, nil
}

func rawMapToValue(m map[string]interface{}) map[string]Value {
	out := make(map[string]Value, len(m))
	for k, v := range m {
		out[k] = FromAny(v)
	}
	return out
}

// --- InputMapping / OutputMapping / Transform ----------------------------

func inputMappingToDoc(m InputMapping) inputMappingDoc {
	d := inputMappingDoc{
		Name:     m.Name,
		Required: m.Required,
		Source: inputSourceDoc{
			Kind:     inputSourceKindName(m.Source.Kind),
			Name:     m.Source.Name,
			StepID:   m.Source.StepID,
			Template: m.Source.Template,
		},
	}
	if !m.Source.Literal.IsNull() {
		d.Source.Literal = m.Source.Literal.Raw()
	}
	if m.Transform != nil {
		td := transformToDoc(m.Transform)
		d.Transform = &td
	}
	if m.Default != nil {
		d.Default = m.Default.Raw()
	}
	return d
}

func docToInputMapping(d inputMappingDoc) (InputMapping, error) {
	kind, err := parseInputSourceKind(d.Source.Kind)
	if err != nil {
		return InputMapping{}, newErr(ErrSerialization, "%v", err)
	}
	m := InputMapping{
		Name:     d.Name,
		Required: d.Required,
		Source: InputSource{
			Kind:     kind,
			Name:     d.Source.Name,
			StepID:   d.Source.StepID,
			Template: d.Source.Template,
		},
	}
	if d.Source.Literal != nil {
		m.Source.Literal = FromAny(d.Source.Literal)
	}
	if d.Transform != nil {
		t, err := docToTransform(*d.Transform)
		if err != nil {
			return InputMapping{}, err
		}
		m.Transform = t
	}
	if d.Default != nil {
		v := FromAny(d.Default)
		m.Default = &v
	}
	return m, nil
}

func outputMappingToDoc(m OutputMapping) outputMappingDoc {
	d := outputMappingDoc{
		Name: m.Name,
		Target: outputTargetDoc{
			Kind:   outputTargetKindName(m.Target.Kind),
			Name:   m.Target.Name,
			StepID: m.Target.StepID,
		},
	}
	if m.Transform != nil {
		td := transformToDoc(m.Transform)
		d.Transform = &td
	}
	return d
}

func docToOutputMapping(d outputMappingDoc) (OutputMapping, error) {
	kind, err := parseOutputTargetKind(d.Target.Kind)
	if err != nil {
		return OutputMapping{}, newErr(ErrSerialization, "%v", err)
	}
	m := OutputMapping{
		Name: d.Name,
		Target: OutputTarget{
			Kind:   kind,
			Name:   d.Target.Name,
			StepID: d.Target.StepID,
		},
	}
	if d.Transform != nil {
		t, err := docToTransform(*d.Transform)
		if err != nil {
			return OutputMapping{}, err
		}
		m.Transform = t
	}
	return m, nil
}

func transformToDoc(t *Transform) transformDoc {
	d := transformDoc{
		Kind:          transformKindName(t.Kind),
		Path:          t.Path,
		Pattern:       t.Pattern,
		Group:         t.Group,
		Template:      t.Template,
		CustomHandler: t.CustomHandler,
	}
	if len(t.Mappings) > 0 {
		d.Mappings = valueMapToRaw(t.Mappings)
	}
	if t.MapDefault != nil {
		d.MapDefault = t.MapDefault.Raw()
	}
	if len(t.CustomConfig) > 0 {
		d.CustomConfig = valueMapToRaw(t.CustomConfig)
	}
	return d
}

func docToTransform(d transformDoc) (*Transform, error) {
	kind, err := parseTransformKind(d.Kind)
	if err != nil {
		return nil, newErr(ErrSerialization, "%v", err)
	}
	t := &Transform{
		Kind:          kind,
		Path:          d.Path,
		Pattern:       d.Pattern,
		Group:         d.Group,
		Template:      d.Template,
		CustomHandler: d.CustomHandler,
	}
	if len(d.Mappings) > 0 {
		t.Mappings = rawMapToValue(d.Mappings)
	}
	if d.MapDefault != nil {
		v := FromAny(d.MapDefault)
		t.MapDefault = &v
	}
	if len(d.CustomConfig) > 0 {
		t.CustomConfig = rawMapToValue(d.CustomConfig)
	}
	return t, nil
}

// --- Dependency / ErrorHandler / ChainErrorHandling ----------------------

func dependencyToDoc(d Dependency) dependencyDoc {
	dd := dependencyDoc{
		DependentStep: d.DependentStep,
		Kind:          dependencyKindName(d.Kind),
		Required:      d.Required,
		RequiredSet:   d.RequiredSet,
	}
	if d.Kind == DependencyConditional {
		cd := conditionToDoc(d.Condition)
		dd.Condition = &cd
	}
	return dd
}

func docToDependency(d dependencyDoc) (Dependency, error) {
	kind, err := parseDependencyKind(d.Kind)
	if err != nil {
		return Dependency{}, newErr(ErrSerialization, "%v", err)
	}
	dep := Dependency{DependentStep: d.DependentStep, Kind: kind, Required: d.Required, RequiredSet: d.RequiredSet}
	if d.Condition != nil {
		cond, err := docToCondition(*d.Condition)
		if err != nil {
			return Dependency{}, err
		}
		dep.Condition = cond
	}
	return dep, nil
}

func errorHandlerToDoc(h *ErrorHandler) *errorHandlerDoc {
	d := &errorHandlerDoc{
		Kind:           errorHandlerKindName(h.Kind),
		FallbackStepID: h.FallbackStepID,
		HandlerName:    h.HandlerName,
	}
	if !h.DefaultValue.IsNull() {
		d.DefaultValue = h.DefaultValue.Raw()
	}
	if len(h.Params) > 0 {
		d.Params = valueMapToRaw(h.Params)
	}
	if len(h.Config) > 0 {
		d.Config = valueMapToRaw(h.Config)
	}
	return d
}

func docToErrorHandler(d errorHandlerDoc) (*ErrorHandler, error) {
	kind, err := parseErrorHandlerKind(d.Kind)
	if err != nil {
		return nil, newErr(ErrSerialization, "%v", err)
	}
	h := &ErrorHandler{Kind: kind, FallbackStepID: d.FallbackStepID, HandlerName: d.HandlerName}
	if d.DefaultValue != nil {
		h.DefaultValue = FromAny(d.DefaultValue)
	}
	if len(d.Params) > 0 {
		h.Params = rawMapToValue(d.Params)
	}
	if len(d.Config) > 0 {
		h.Config = rawMapToValue(d.Config)
	}
	return h, nil
}

func chainErrorHandlingToDoc(h ChainErrorHandling) chainErrorHandlingDoc {
	d := chainErrorHandlingDoc{Kind: chainErrorHandlingKindName(h.Kind), MaxRetries: h.MaxRetries}
	if len(h.Params) > 0 {
		d.Params = valueMapToRaw(h.Params)
	}
	return d
}

func docToChainErrorHandling(d chainErrorHandlingDoc) (ChainErrorHandling, error) {
	kind, err := parseChainErrorHandlingKind(d.Kind)
	if err != nil {
		return ChainErrorHandling{}, newErr(ErrSerialization, "%v", err)
	}
	h := ChainErrorHandling{Kind: kind, MaxRetries: d.MaxRetries}
	if len(d.Params) > 0 {
		h.Params = rawMapToValue(d.Params)
	}
	return h, nil
}

// --- discriminator string tables -----------------------------------------

func parseRole(s string) (Role, error) {
	switch s {
	case "", "system":
		return RoleSystem, nil
	case "user":
		return RoleUser, nil
	case "assistant":
		return RoleAssistant, nil
	case "function":
		return RoleFunction, nil
	case "tool":
		return RoleTool, nil
	case "custom":
		return RoleCustom, nil
	default:
		return 0, newErr(ErrSerialization, "unknown role %q", s)
	}
}

func parseStepType(s string) (StepType, error) {
	switch s {
	case "LLMInference":
		return StepLLMInference, nil
	case "FunctionCall":
		return StepFunctionCall, nil
	case "ToolUse":
		return StepToolUse, nil
	case "Conditional":
		return StepConditional, nil
	case "Parallel":
		return StepParallel, nil
	case "Loop":
		return StepLoop, nil
	case "Custom":
		return StepCustom, nil
	default:
		return 0, newErr(ErrSerialization, "unknown step type %q", s)
	}
}

func conditionKindName(k ConditionKind) string {
	switch k {
	case ConditionEquals:
		return "Equals"
	case ConditionContains:
		return "Contains"
	case ConditionRegex:
		return "Regex"
	case ConditionGreaterThan:
		return "GreaterThan"
	case ConditionLessThan:
		return "LessThan"
	case ConditionComparison:
		return "Comparison"
	case ConditionExpression:
		return "Expression"
	case ConditionAnd:
		return "And"
	case ConditionOr:
		return "Or"
	case ConditionNot:
		return "Not"
	case ConditionCustom:
		return "Custom"
	default:
		return "Equals"
	}
}

func parseConditionKind(s string) (ConditionKind, error) {
	switch s {
	case "Equals":
		return ConditionEquals, nil
	case "Contains":
		return ConditionContains, nil
	case "Regex":
		return ConditionRegex, nil
	case "GreaterThan":
		return ConditionGreaterThan, nil
	case "LessThan":
		return ConditionLessThan, nil
	case "Comparison":
		return ConditionComparison, nil
	case "Expression":
		return ConditionExpression, nil
	case "And":
		return ConditionAnd, nil
	case "Or":
		return ConditionOr, nil
	case "Not":
		return ConditionNot, nil
	case "Custom":
		return ConditionCustom, nil
	default:
		return 0, newErr(ErrSerialization, "unknown condition kind %q", s)
	}
}

func parseComparisonOp(s string) (ComparisonOp, error) {
	switch s {
	case "eq":
		return OpEq, nil
	case "ne":
		return OpNe, nil
	case "lt":
		return OpLt, nil
	case "lte":
		return OpLte, nil
	case "gt":
		return OpGt, nil
	case "gte":
		return OpGte, nil
	case "contains":
		return OpContains, nil
	case "startsWith":
		return OpStartsWith, nil
	case "endsWith":
		return OpEndsWith, nil
	case "matches":
		return OpMatches, nil
	default:
		return 0, newErr(ErrSerialization, "unknown comparison operator %q", s)
	}
}

func inputSourceKindName(k InputSourceKind) string {
	switch k {
	case SourceChainInput:
		return "ChainInput"
	case SourceVariable:
		return "Variable"
	case SourceStepOutput:
		return "StepOutput"
	case SourceLiteral:
		return "Literal"
	case SourceTemplate:
		return "Template"
	default:
		return "ChainInput"
	}
}

func parseInputSourceKind(s string) (InputSourceKind, error) {
	switch s {
	case "ChainInput":
		return SourceChainInput, nil
	case "Variable":
		return SourceVariable, nil
	case "StepOutput":
		return SourceStepOutput, nil
	case "Literal":
		return SourceLiteral, nil
	case "Template":
		return SourceTemplate, nil
	default:
		return 0, newErr(ErrSerialization, "unknown input source kind %q", s)
	}
}

func outputTargetKindName(k OutputTargetKind) string {
	switch k {
	case TargetChainOutput:
		return "ChainOutput"
	case TargetVariable:
		return "Variable"
	case TargetStepInput:
		return "StepInput"
	default:
		return "ChainOutput"
	}
}

func parseOutputTargetKind(s string) (OutputTargetKind, error) {
	switch s {
	case "ChainOutput":
		return TargetChainOutput, nil
	case "Variable":
		return TargetVariable, nil
	case "StepInput":
		return TargetStepInput, nil
	default:
		return 0, newErr(ErrSerialization, "unknown output target kind %q", s)
	}
}

func transformKindName(k TransformKind) string {
	switch k {
	case TransformJSONPath:
		return "JSONPath"
	case TransformRegex:
		return "Regex"
	case TransformTemplate:
		return "Template"
	case TransformMap:
		return "Map"
	case TransformCustom:
		return "Custom"
	default:
		return "JSONPath"
	}
}

func parseTransformKind(s string) (TransformKind, error) {
	switch s {
	case "JSONPath":
		return TransformJSONPath, nil
	case "Regex":
		return TransformRegex, nil
	case "Template":
		return TransformTemplate, nil
	case "Map":
		return TransformMap, nil
	case "Custom":
		return TransformCustom, nil
	default:
		return 0, newErr(ErrSerialization, "unknown transform kind %q", s)
	}
}

func dependencyKindName(k DependencyKind) string {
	switch k {
	case DependencySimple:
		return "Simple"
	case DependencyAll:
		return "All"
	case DependencyAny:
		return "Any"
	case DependencyConditional:
		return "Conditional"
	default:
		return "Simple"
	}
}

func parseDependencyKind(s string) (DependencyKind, error) {
	switch s {
	case "Simple":
		return DependencySimple, nil
	case "All":
		return DependencyAll, nil
	case "Any":
		return DependencyAny, nil
	case "Conditional":
		return DependencyConditional, nil
	default:
		return 0, newErr(ErrSerialization, "unknown dependency kind %q", s)
	}
}

func errorHandlerKindName(k ErrorHandlerKind) string {
	switch k {
	case ErrorHandlerContinueWithDefault:
		return "ContinueWithDefault"
	case ErrorHandlerRetryWithDifferentParams:
		return "RetryWithDifferentParams"
	case ErrorHandlerExecuteFallbackStep:
		return "ExecuteFallbackStep"
	case ErrorHandlerCustom:
		return "Custom"
	default:
		return "ContinueWithDefault"
	}
}

func parseErrorHandlerKind(s string) (ErrorHandlerKind, error) {
	switch s {
	case "ContinueWithDefault":
		return ErrorHandlerContinueWithDefault, nil
	case "RetryWithDifferentParams":
		return ErrorHandlerRetryWithDifferentParams, nil
	case "ExecuteFallbackStep":
		return ErrorHandlerExecuteFallbackStep, nil
	case "Custom":
		return ErrorHandlerCustom, nil
	default:
		return 0, newErr(ErrSerialization, "unknown error handler kind %q", s)
	}
}

func chainErrorHandlingKindName(k ChainErrorHandlingKind) string {
	switch k {
	case StopOnError:
		return "StopOnError"
	case ContinueOnError:
		return "ContinueOnError"
	case ChainRetryWithDifferentParams:
		return "ChainRetryWithDifferentParams"
	default:
		return "StopOnError"
	}
}

func parseChainErrorHandlingKind(s string) (ChainErrorHandlingKind, error) {
	switch s {
	case "", "StopOnError":
		return StopOnError, nil
	case "ContinueOnError":
		return ContinueOnError, nil
	case "ChainRetryWithDifferentParams":
		return ChainRetryWithDifferentParams, nil
	default:
		return 0, newErr(ErrSerialization, "unknown chain error handling kind %q", s)
	}
}

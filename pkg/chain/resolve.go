package chain

// Resolver implements §4.2's input resolution and output writing. It is
// held by the Engine and threaded through dispatch so that a single set
// of registered custom transform handlers applies chain-wide.
type Resolver struct {
	customTransforms map[string]TransformHandler
}

// NewResolver returns a Resolver with no custom transform handlers
// registered.
func NewResolver() *Resolver {
	return &Resolver{customTransforms: make(map[string]TransformHandler)}
}

// RegisterTransform adds a TransformCustom handler under name.
func (r *Resolver) RegisterTransform(name string, handler TransformHandler) {
	r.customTransforms[name] = handler
}

// ResolveInputs materializes a step's input envelope from the shared
// context (§4.2): for each InputMapping, locate the source value, apply
// required/default handling, then the optional Transform.
func (r *Resolver) ResolveInputs(step *Step, ctx *ExecutionContext) (map[string]Value, error) {
	out := make(map[string]Value, len(step.Inputs))
	for _, mapping := range step.Inputs {
		// A prior step's OutputMapping with a StepInput target may have
		// late-bound this input via the side table (§4.2, §9); that
		// override takes precedence over the mapping's own Source.
		v, found, err := Value{}, false, error(nil)
		if sv, ok := ctx.GetStepInput(step.ID, mapping.Name); ok {
			v, found = sv, true
		} else {
			v, found, err = r.resolveSource(step.ID, mapping, ctx)
			if err != nil {
				return nil, err
			}
		}
		if !found {
			if mapping.Default != nil {
				v = *mapping.Default
				found = true
			} else if mapping.Required {
				return nil, varErr(ErrVariableNotFound, mapping.Name, "step %q requires input %q which was not found", step.ID, mapping.Name)
			} else {
				continue
			}
		}
		if mapping.Transform != nil {
			v, err = ApplyTransform(mapping.Transform, v, r.customTransforms)
			if err != nil {
				return nil, err
			}
		}
		out[mapping.Name] = v
	}
	return out, nil
}

func (r *Resolver) resolveSource(stepID string, mapping InputMapping, ctx *ExecutionContext) (Value, bool, error) {
	switch mapping.Source.Kind {
	case SourceChainInput:
		v, ok := ctx.GetInput(mapping.Source.Name)
		return v, ok, nil
	case SourceVariable:
		v, ok := ctx.GetVariable(mapping.Source.Name)
		return v, ok, nil
	case SourceStepOutput:
		result, ok := ctx.GetStepResult(mapping.Source.StepID)
		if !ok {
			return Value{}, false, nil
		}
		v, ok := result.Outputs[mapping.Source.Name]
		return v, ok, nil
	case SourceLiteral:
		return mapping.Source.Literal, true, nil
	case SourceTemplate:
		s, err := interpolateTemplate(mapping.Source.Template, ctx.GetVariable)
		if err != nil {
			return Value{}, false, err
		}
		return NewString(s), true, nil
	default:
		return Value{}, false, newErr(ErrValidation, "step %q input %q has unknown source kind %d", stepID, mapping.Name, int(mapping.Source.Kind))
	}
}

// WriteOutputs applies §4.2's "Write outputs" rules: for each
// OutputMapping, read the corresponding entry of result.Outputs (missing
// is an error), apply any transform, then route to the mapping's target.
func (r *Resolver) WriteOutputs(step *Step, result StepResult, ctx *ExecutionContext) error {
	for _, mapping := range step.Outputs {
		v, ok := result.Outputs[mapping.Name]
		if !ok {
			return varErr(ErrVariableNotFound, mapping.Name, "step %q did not produce declared output %q", step.ID, mapping.Name)
		}
		if mapping.Transform != nil {
			var err error
			v, err = ApplyTransform(mapping.Transform, v, r.customTransforms)
			if err != nil {
				return err
			}
		}
		switch mapping.Target.Kind {
		case TargetVariable:
			ctx.SetVariable(mapping.Target.Name, v)
		case TargetChainOutput:
			ctx.SetOutput(mapping.Target.Name, v)
		case TargetStepInput:
			ctx.SetStepInput(mapping.Target.StepID, mapping.Target.Name, v)
		default:
			return newErr(ErrValidation, "step %q output %q has unknown target kind %d", step.ID, mapping.Name, int(mapping.Target.Kind))
		}
	}
	return nil
}

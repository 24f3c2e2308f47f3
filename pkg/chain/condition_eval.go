package chain

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// ConditionEvaluator delegates ConditionCustom evaluation to a named,
// externally registered handler. The engine ships no built-in handlers;
// an embedding system registers its own via Engine.RegisterConditionEvaluator.
type ConditionEvaluator func(ctx *ExecutionContext, params map[string]Value) (bool, error)

// Evaluate is the pure function (Condition, ExecutionContext) -> (bool, error)
// described by §4.4. customEvaluators may be nil.
func Evaluate(c Condition, ctx *ExecutionContext, customEvaluators map[string]ConditionEvaluator) (bool, error) {
	switch c.Kind {
	case ConditionEquals:
		return evalVariableCompare(c, ctx, func(v, target Value) (bool, error) {
			return v.Equal(target), nil
		})
	case ConditionContains:
		return evalVariableCompare(c, ctx, func(v, target Value) (bool, error) {
			return valueContains(v, target)
		})
	case ConditionRegex:
		return evalRegexCondition(c, ctx)
	case ConditionGreaterThan:
		return evalVariableCompare(c, ctx, func(v, target Value) (bool, error) {
			return numericCompare(v, target, OpGt)
		})
	case ConditionLessThan:
		return evalVariableCompare(c, ctx, func(v, target Value) (bool, error) {
			return numericCompare(v, target, OpLt)
		})
	case ConditionComparison:
		left, err := resolveOperand(c.Left, ctx)
		if err != nil {
			return false, err
		}
		right, err := resolveOperand(c.Right, ctx)
		if err != nil {
			return false, err
		}
		return applyComparison(left, c.Op, right)
	case ConditionExpression:
		return evalExpression(c.Expr, ctx)
	case ConditionAnd:
		for _, operand := range c.Operands {
			ok, err := Evaluate(operand, ctx, customEvaluators)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case ConditionOr:
		for _, operand := range c.Operands {
			ok, err := Evaluate(operand, ctx, customEvaluators)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case ConditionNot:
		if len(c.Operands) != 1 {
			return false, newErr(ErrValidation, "Not condition requires exactly one operand, got %d", len(c.Operands))
		}
		ok, err := Evaluate(c.Operands[0], ctx, customEvaluators)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case ConditionCustom:
		handler, ok := customEvaluators[c.CustomEvaluator]
		if !ok {
			return false, newErr(ErrValidation, "no custom condition evaluator registered for %q", c.CustomEvaluator)
		}
		return handler(ctx, c.CustomParams)
	default:
		return false, newErr(ErrValidation, "unknown condition kind %d", int(c.Kind))
	}
}

func evalVariableCompare(c Condition, ctx *ExecutionContext, cmp func(v, target Value) (bool, error)) (bool, error) {
	v, ok := ctx.GetVariable(c.Variable)
	if !ok {
		return false, varErr(ErrVariableNotFound, c.Variable, "condition references unknown variable %q", c.Variable)
	}
	return cmp(v, c.Value)
}

func evalRegexCondition(c Condition, ctx *ExecutionContext) (bool, error) {
	v, ok := ctx.GetVariable(c.Variable)
	if !ok {
		return false, varErr(ErrVariableNotFound, c.Variable, "condition references unknown variable %q", c.Variable)
	}
	re, err := regexp.Compile(c.Pattern)
	if err != nil {
		return false, wrapErr(ErrValidation, "", err, "invalid regex pattern %q", c.Pattern)
	}
	return re.MatchString(v.String()), nil
}

func valueContains(v, target Value) (bool, error) {
	switch v.Kind() {
	case KindString:
		s, _ := v.AsString()
		return strings.Contains(s, target.String()), nil
	case KindArray:
		arr, _ := v.AsArray()
		for _, e := range arr {
			if e.Equal(target) {
				return true, nil
			}
		}
		return false, nil
	case KindObject:
		obj, _ := v.AsObject()
		key, ok := target.AsString()
		if !ok {
			return false, newErr(ErrValidation, "Contains on an object requires a string key, got %s", target.Kind())
		}
		_, present := obj[key]
		return present, nil
	default:
		return false, newErr(ErrValidation, "Contains is not defined for %s", v.Kind())
	}
}

func numericCompare(v, target Value, op ComparisonOp) (bool, error) {
	a, err := toFloat(v)
	if err != nil {
		return false, err
	}
	b, err := toFloat(target)
	if err != nil {
		return false, err
	}
	if op == OpGt {
		return a > b, nil
	}
	return a < b, nil
}

func toFloat(v Value) (float64, error) {
	if n, ok := v.AsFloat64(); ok {
		return n, nil
	}
	if s, ok := v.AsString(); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, wrapErr(ErrValidation, "", err, "value %q is not numeric", s)
		}
		return f, nil
	}
	return 0, newErr(ErrValidation, "value of kind %s is not numeric", v.Kind())
}

// resolveOperand implements §4.4's Comparison operand resolution: a
// `{{name}}` form is a variable reference, else attempt a JSON parse,
// else treat the raw string as a string literal.
func resolveOperand(raw string, ctx *ExecutionContext) (Value, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") {
		name := strings.TrimSpace(trimmed[2 : len(trimmed)-2])
		v, ok := ctx.GetVariable(name)
		if !ok {
			return Value{}, varErr(ErrVariableNotFound, name, "comparison references unknown variable %q", name)
		}
		return v, nil
	}
	var parsed interface{}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&parsed); err == nil {
		return FromAny(parsed), nil
	}
	return NewString(trimmed), nil
}

func applyComparison(left Value, op ComparisonOp, right Value) (bool, error) {
	return applyComparisonValues(left, op, right)
}

// applyComparisonOp is the string-operand entry point used by the
// Expression mini-language, which has already substituted variables and so
// only ever compares trimmed strings.
func applyComparisonOp(left string, op ComparisonOp, right string) (bool, error) {
	return applyComparisonValues(NewString(left), op, NewString(right))
}

func applyComparisonValues(left Value, op ComparisonOp, right Value) (bool, error) {
	switch op {
	case OpEq:
		return left.Equal(right), nil
	case OpNe:
		return !left.Equal(right), nil
	case OpLt, OpLte, OpGt, OpGte:
		a, err := toFloat(left)
		if err != nil {
			return false, err
		}
		b, err := toFloat(right)
		if err != nil {
			return false, err
		}
		switch op {
		case OpLt:
			return a < b, nil
		case OpLte:
			return a <= b, nil
		case OpGt:
			return a > b, nil
		default:
			return a >= b, nil
		}
	case OpContains:
		return strings.Contains(left.String(), right.String()), nil
	case OpStartsWith:
		return strings.HasPrefix(left.String(), right.String()), nil
	case OpEndsWith:
		return strings.HasSuffix(left.String(), right.String()), nil
	case OpMatches:
		re, err := regexp.Compile(right.String())
		if err != nil {
			return false, wrapErr(ErrValidation, "", err, "invalid regex pattern %q", right.String())
		}
		return re.MatchString(left.String()), nil
	default:
		return false, newErr(ErrValidation, "unknown comparison operator %d", int(op))
	}
}

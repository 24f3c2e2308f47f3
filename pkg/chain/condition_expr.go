package chain

import "strings"

// exprOperators lists the infix comparison operators recognised by the
// Expression mini-language, two-character tokens first so `<=` and `>=`
// are matched before `<` and `>`.
var exprOperators = []struct {
	token string
	op    ComparisonOp
}{
	{"==", OpEq},
	{"!=", OpNe},
	{"<=", OpLte},
	{">=", OpGte},
	{"<", OpLt},
	{">", OpGt},
}

// evalExpression implements the Expression condition variant (§4.4,
// §4.4.1): substitute every `${name}` with the stringified variable value,
// then recognise boolean literals or one infix comparison. This is
// intentionally not a general grammar — arithmetic and function calls are
// a deliberate non-goal (§9); chain authors reach for Conditional steps
// with typed Comparison operators instead.
func evalExpression(expr string, ctx *ExecutionContext) (bool, error) {
	substituted, err := substituteExprVars(expr, ctx)
	if err != nil {
		return false, err
	}
	trimmed := strings.TrimSpace(substituted)

	switch trimmed {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}

	for _, candidate := range exprOperators {
		if idx := strings.Index(trimmed, candidate.token); idx >= 0 {
			left := strings.TrimSpace(trimmed[:idx])
			right := strings.TrimSpace(trimmed[idx+len(candidate.token):])
			return applyComparisonOp(left, candidate.op, right)
		}
	}

	return false, newErr(ErrValidation, "expression %q is neither a boolean literal nor a comparison", expr)
}

// substituteExprVars replaces every `${name}` occurrence in expr with the
// stringified value of ctx.variables[name]. A reference to an undeclared
// variable is an error (conditions must be total on well-formed inputs,
// ambiguous cases error rather than defaulting, §4.4).
func substituteExprVars(expr string, ctx *ExecutionContext) (string, error) {
	var b strings.Builder
	i := 0
	for i < len(expr) {
		start := strings.Index(expr[i:], "${")
		if start < 0 {
			b.WriteString(expr[i:])
			break
		}
		start += i
		b.WriteString(expr[i:start])
		end := strings.Index(expr[start:], "}")
		if end < 0 {
			return "", newErr(ErrValidation, "unterminated ${ in expression %q", expr)
		}
		end += start
		name := expr[start+2 : end]
		v, ok := ctx.GetVariable(name)
		if !ok {
			return "", varErr(ErrVariableNotFound, name, "expression references undeclared variable %q", name)
		}
		b.WriteString(v.String())
		i = end + 1
	}
	return b.String(), nil
}

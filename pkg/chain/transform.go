package chain

import (
	"regexp"
	"strconv"
	"strings"
)

// ApplyTransform implements §4.2's "Apply transform" rules. customHandlers
// may be nil; a TransformCustom without a registered handler fails, per
// spec, rather than passing the value through untouched.
func ApplyTransform(t *Transform, in Value, customHandlers map[string]TransformHandler) (Value, error) {
	if t == nil {
		return in, nil
	}
	switch t.Kind {
	case TransformJSONPath:
		return applyJSONPath(t.Path, in)
	case TransformRegex:
		return applyRegexTransform(t, in)
	case TransformTemplate:
		return applyTemplateTransform(t.Template, in)
	case TransformMap:
		return applyMapTransform(t, in)
	case TransformCustom:
		if customHandlers == nil {
			return Value{}, newErr(ErrValidation, "custom transforms not implemented")
		}
		handler, ok := customHandlers[t.CustomHandler]
		if !ok {
			return Value{}, newErr(ErrValidation, "custom transforms not implemented")
		}
		return handler(in, t.CustomConfig)
	default:
		return Value{}, newErr(ErrValidation, "unknown transform kind %d", int(t.Kind))
	}
}

// TransformHandler implements a TransformCustom variant, registered by the
// embedding system.
type TransformHandler func(in Value, config map[string]Value) (Value, error)

// applyJSONPath descends through in by splitting path on "." and treating
// each component as an object key, or — when the current value is an
// array and the component parses as a non-negative integer — as an index.
func applyJSONPath(path string, in Value) (Value, error) {
	if path == "" {
		return in, nil
	}
	cur := in
	for _, component := range strings.Split(path, ".") {
		switch cur.Kind() {
		case KindObject:
			obj, _ := cur.AsObject()
			next, ok := obj[component]
			if !ok {
				return Value{}, newErr(ErrValidation, "json path component %q not found", component)
			}
			cur = next
		case KindArray:
			idx, err := strconv.Atoi(component)
			if err != nil || idx < 0 {
				return Value{}, newErr(ErrValidation, "json path component %q is not a valid array index", component)
			}
			arr, _ := cur.AsArray()
			if idx >= len(arr) {
				return Value{}, newErr(ErrValidation, "json path index %d out of range (len %d)", idx, len(arr))
			}
			cur = arr[idx]
		default:
			return Value{}, newErr(ErrValidation, "json path component %q: not found (not an object or array)", component)
		}
	}
	return cur, nil
}

func applyRegexTransform(t *Transform, in Value) (Value, error) {
	re, err := regexp.Compile(t.Pattern)
	if err != nil {
		return Value{}, wrapErr(ErrValidation, "", err, "invalid regex pattern %q", t.Pattern)
	}
	match := re.FindStringSubmatch(in.String())
	if match == nil {
		return Value{}, newErr(ErrValidation, "regex %q did not match", t.Pattern)
	}
	if t.Group != nil {
		if *t.Group < 0 || *t.Group >= len(match) {
			return Value{}, newErr(ErrValidation, "regex group %d out of range (matched %d groups)", *t.Group, len(match)-1)
		}
		return NewString(match[*t.Group]), nil
	}
	return NewString(match[0]), nil
}

// applyTemplateTransform replaces literal "{{value}}" with the serialized
// form of in. Unlike InputMapping's Template source (which interpolates
// named variables), a transform Template only ever has the single
// implicit placeholder "{{value}}" standing for its input.
func applyTemplateTransform(tmpl string, in Value) (Value, error) {
	return NewString(strings.ReplaceAll(tmpl, "{{value}}", in.String())), nil
}

func applyMapTransform(t *Transform, in Value) (Value, error) {
	key := in.String()
	if v, ok := t.Mappings[key]; ok {
		return v, nil
	}
	if t.MapDefault != nil {
		return *t.MapDefault, nil
	}
	return Value{}, newErr(ErrValidation, "map transform has no entry for %q and no default", key)
}

// interpolateTemplate substitutes every "{{name}}" occurrence in tmpl with
// the stringified value of a variable resolved by lookup, per §4.2's
// Template input source.
func interpolateTemplate(tmpl string, lookup func(name string) (Value, bool)) (string, error) {
	var b strings.Builder
	i := 0
	for i < len(tmpl) {
		start := strings.Index(tmpl[i:], "{{")
		if start < 0 {
			b.WriteString(tmpl[i:])
			break
		}
		start += i
		b.WriteString(tmpl[i:start])
		end := strings.Index(tmpl[start:], "}}")
		if end < 0 {
			return "", newErr(ErrValidation, "unterminated {{ in template %q", tmpl)
		}
		end += start
		name := strings.TrimSpace(tmpl[start+2 : end])
		v, ok := lookup(name)
		if !ok {
			return "", varErr(ErrVariableNotFound, name, "template references unknown name %q", name)
		}
		b.WriteString(v.String())
		i = end + 2
	}
	return b.String(), nil
}

// Package chain implements the IntelliRouter Chain Engine: a typed DAG
// executor for declarative chains of inference, tool, and control-flow
// steps.
//
// A Chain is a static, immutable definition (this file and chain.go/step.go).
// An ExecutionContext (context.go) is the live, mutable state of one run.
// The Engine (engine.go) walks a topologically-sorted plan of a Chain,
// dispatching each Step and threading data between them through the
// context.
package chain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Kind discriminates the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// Value is a JSON-equivalent tagged union: the dynamic data type flowing
// through chain inputs, outputs, variables, and step results.
//
// Value is a value type (copy it rather than share pointers) except for its
// array/object payloads, which are shared slices/maps — callers that need
// isolation should call Clone.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	a    []Value
	o    map[string]Value
}

// Null returns the null Value.
func Null() Value { return Value{kind: KindNull} }

// NewBool wraps a bool.
func NewBool(b bool) Value { return Value{kind: KindBool, b: b} }

// NewNumber wraps a float64.
func NewNumber(n float64) Value { return Value{kind: KindNumber, n: n} }

// NewString wraps a string.
func NewString(s string) Value { return Value{kind: KindString, s: s} }

// NewArray wraps a slice of Values.
func NewArray(a []Value) Value { return Value{kind: KindArray, a: a} }

// NewObject wraps a map of Values.
func NewObject(o map[string]Value) Value { return Value{kind: KindObject, o: o} }

// FromAny converts a plain Go value (as produced by encoding/json
// Unmarshal into interface{}, or hand-built by callers) into a Value.
// Unrecognized concrete types are stringified via fmt.Sprintf as a last
// resort rather than dropped.
func FromAny(v interface{}) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case bool:
		return NewBool(t)
	case string:
		return NewString(t)
	case float64:
		return NewNumber(t)
	case float32:
		return NewNumber(float64(t))
	case int:
		return NewNumber(float64(t))
	case int64:
		return NewNumber(float64(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return NewString(t.String())
		}
		return NewNumber(f)
	case []interface{}:
		out := make([]Value, len(t))
		for i, e := range t {
			out[i] = FromAny(e)
		}
		return NewArray(out)
	case []Value:
		return NewArray(t)
	case map[string]interface{}:
		out := make(map[string]Value, len(t))
		for k, e := range t {
			out[k] = FromAny(e)
		}
		return NewObject(out)
	case map[string]Value:
		return NewObject(t)
	default:
		return NewString(fmt.Sprintf("%v", t))
	}
}

// Kind returns the Value's variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the Value is null (including the zero Value).
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsString returns the wrapped string and true iff Kind() == KindString.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// AsFloat64 returns the wrapped number and true iff Kind() == KindNumber.
func (v Value) AsFloat64() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.n, true
}

// AsBool returns the wrapped bool and true iff Kind() == KindBool.
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// AsArray returns the wrapped slice and true iff Kind() == KindArray.
func (v Value) AsArray() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return v.a, true
}

// AsObject returns the wrapped map and true iff Kind() == KindObject.
func (v Value) AsObject() (map[string]Value, bool) {
	if v.kind != KindObject {
		return nil, false
	}
	return v.o, true
}

// Raw unwraps a Value into a plain interface{} tree (bool/float64/string/
// []interface{}/map[string]interface{}/nil), suitable for json.Marshal or
// for handing to a mapstructure-decoded executor config.
func (v Value) Raw() interface{} {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindArray:
		out := make([]interface{}, len(v.a))
		for i, e := range v.a {
			out[i] = e.Raw()
		}
		return out
	case KindObject:
		out := make(map[string]interface{}, len(v.o))
		for k, e := range v.o {
			out[k] = e.Raw()
		}
		return out
	default:
		return nil
	}
}

// String stringifies a Value for template interpolation: scalars stringify
// naturally, arrays/objects serialize as compact JSON, null becomes "".
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindNumber:
		return strconv.FormatFloat(v.n, 'f', -1, 64)
	case KindString:
		return v.s
	case KindArray, KindObject:
		b, err := json.Marshal(v.Raw())
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return ""
	}
}

// Clone returns a deep copy, safe to mutate independently of the original.
func (v Value) Clone() Value {
	switch v.kind {
	case KindArray:
		out := make([]Value, len(v.a))
		for i, e := range v.a {
			out[i] = e.Clone()
		}
		return NewArray(out)
	case KindObject:
		out := make(map[string]Value, len(v.o))
		for k, e := range v.o {
			out[k] = e.Clone()
		}
		return NewObject(out)
	default:
		return v
	}
}

// Equal reports deep structural equality, used by Condition's eq/ne
// comparisons.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		// eq/ne is type-strict: values of different kinds are never equal,
		// so a number never equals its string spelling.
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindNumber:
		return v.n == other.n
	case KindString:
		return v.s == other.s
	case KindArray:
		if len(v.a) != len(other.a) {
			return false
		}
		for i := range v.a {
			if !v.a[i].Equal(other.a[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.o) != len(other.o) {
			return false
		}
		for k, e := range v.o {
			oe, ok := other.o[k]
			if !ok || !e.Equal(oe) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Raw())
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// MarshalYAML implements yaml.Marshaler so Value round-trips through YAML
// chain documents identically to JSON ones (SPEC_FULL §6.3.1).
func (v Value) MarshalYAML() (interface{}, error) {
	return v.Raw(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (v *Value) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	*v = FromAny(normalizeYAML(raw))
	return nil
}

// normalizeYAML recursively converts the map[interface{}]interface{} and
// []interface{} shapes that some YAML decoders (and yaml.v3's generic
// interface{} target in nested positions) can produce into the
// map[string]interface{} shape FromAny expects.
func normalizeYAML(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = normalizeYAML(e)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = normalizeYAML(e)
		}
		return out
	case int:
		return float64(t)
	default:
		return v
	}
}

// sortedKeys returns an object's keys in deterministic (sorted) order.
func sortedKeys(o map[string]Value) []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

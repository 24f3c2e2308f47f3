package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestApplyTransformJSONPath covers §4.2's JSONPath transform descending
// through nested objects and arrays by "." components.
func TestApplyTransformJSONPath(t *testing.T) {
	in := NewObject(map[string]Value{
		"users": NewArray([]Value{
			NewObject(map[string]Value{"name": NewString("ada")}),
			NewObject(map[string]Value{"name": NewString("alan")}),
		}),
	})

	t.Run("descends object then array index then object", func(t *testing.T) {
		out, err := ApplyTransform(&Transform{Kind: TransformJSONPath, Path: "users.1.name"}, in, nil)
		require.NoError(t, err)
		got, ok := out.AsString()
		require.True(t, ok)
		assert.Equal(t, "alan", got)
	})

	t.Run("missing key is an error", func(t *testing.T) {
		_, err := ApplyTransform(&Transform{Kind: TransformJSONPath, Path: "ghost"}, in, nil)
		require.Error(t, err)
		assert.Equal(t, ErrValidation, err.(*Error).Kind)
	})

	t.Run("out of range index is an error", func(t *testing.T) {
		_, err := ApplyTransform(&Transform{Kind: TransformJSONPath, Path: "users.9.name"}, in, nil)
		require.Error(t, err)
		assert.Equal(t, ErrValidation, err.(*Error).Kind)
	})

	t.Run("empty path passes the value through", func(t *testing.T) {
		out, err := ApplyTransform(&Transform{Kind: TransformJSONPath, Path: ""}, in, nil)
		require.NoError(t, err)
		assert.True(t, in.Equal(out))
	})
}

// TestApplyTransformRegex covers the Regex transform's whole-match and
// capture-group behavior.
func TestApplyTransformRegex(t *testing.T) {
	in := NewString("order-4471")

	t.Run("whole match with no group", func(t *testing.T) {
		out, err := ApplyTransform(&Transform{Kind: TransformRegex, Pattern: `order-\d+`}, in, nil)
		require.NoError(t, err)
		got, _ := out.AsString()
		assert.Equal(t, "order-4471", got)
	})

	t.Run("capture group", func(t *testing.T) {
		group := 1
		out, err := ApplyTransform(&Transform{Kind: TransformRegex, Pattern: `order-(\d+)`, Group: &group}, in, nil)
		require.NoError(t, err)
		got, _ := out.AsString()
		assert.Equal(t, "4471", got)
	})

	t.Run("no match is an error", func(t *testing.T) {
		_, err := ApplyTransform(&Transform{Kind: TransformRegex, Pattern: `^nope$`}, in, nil)
		require.Error(t, err)
		assert.Equal(t, ErrValidation, err.(*Error).Kind)
	})

	t.Run("out of range group is an error", func(t *testing.T) {
		group := 5
		_, err := ApplyTransform(&Transform{Kind: TransformRegex, Pattern: `order-(\d+)`, Group: &group}, in, nil)
		require.Error(t, err)
		assert.Equal(t, ErrValidation, err.(*Error).Kind)
	})
}

// TestApplyTransformTemplate covers the Template transform's single
// implicit "{{value}}" placeholder.
func TestApplyTransformTemplate(t *testing.T) {
	out, err := ApplyTransform(&Transform{Kind: TransformTemplate, Template: "[{{value}}]"}, NewNumber(7), nil)
	require.NoError(t, err)
	got, _ := out.AsString()
	assert.Equal(t, "[7]", got)
}

// TestApplyTransformMap covers the Map transform's lookup-with-default.
func TestApplyTransformMap(t *testing.T) {
	mappings := map[string]Value{"green": NewNumber(1), "red": NewNumber(2)}

	t.Run("matched key", func(t *testing.T) {
		out, err := ApplyTransform(&Transform{Kind: TransformMap, Mappings: mappings}, NewString("red"), nil)
		require.NoError(t, err)
		n, _ := out.AsFloat64()
		assert.Equal(t, float64(2), n)
	})

	t.Run("unmatched key falls back to default", func(t *testing.T) {
		def := NewNumber(0)
		out, err := ApplyTransform(&Transform{Kind: TransformMap, Mappings: mappings, MapDefault: &def}, NewString("blue"), nil)
		require.NoError(t, err)
		n, _ := out.AsFloat64()
		assert.Equal(t, float64(0), n)
	})

	t.Run("unmatched key with no default is an error", func(t *testing.T) {
		_, err := ApplyTransform(&Transform{Kind: TransformMap, Mappings: mappings}, NewString("blue"), nil)
		require.Error(t, err)
		assert.Equal(t, ErrValidation, err.(*Error).Kind)
	})
}

// TestApplyTransformCustom covers the Custom transform's handler-registry
// dispatch, including the spec's "fails rather than passes through
// untouched" rule when no handler is registered.
func TestApplyTransformCustom(t *testing.T) {
	handlers := map[string]TransformHandler{
		"double": func(in Value, config map[string]Value) (Value, error) {
			n, _ := in.AsFloat64()
			return NewNumber(n * 2), nil
		},
	}

	t.Run("registered handler runs", func(t *testing.T) {
		out, err := ApplyTransform(&Transform{Kind: TransformCustom, CustomHandler: "double"}, NewNumber(21), handlers)
		require.NoError(t, err)
		n, _ := out.AsFloat64()
		assert.Equal(t, float64(42), n)
	})

	t.Run("unregistered handler is an error, not a passthrough", func(t *testing.T) {
		_, err := ApplyTransform(&Transform{Kind: TransformCustom, CustomHandler: "missing"}, NewNumber(21), handlers)
		require.Error(t, err)
		assert.Equal(t, ErrValidation, err.(*Error).Kind)
	})

	t.Run("nil handler map is an error", func(t *testing.T) {
		_, err := ApplyTransform(&Transform{Kind: TransformCustom, CustomHandler: "double"}, NewNumber(21), nil)
		require.Error(t, err)
		assert.Equal(t, ErrValidation, err.(*Error).Kind)
	})
}

// TestApplyTransformNilIsPassthrough covers ApplyTransform's nil-Transform
// shortcut used by callers that always go through the same code path
// whether or not a mapping declares a transform.
func TestApplyTransformNilIsPassthrough(t *testing.T) {
	v := NewString("untouched")
	out, err := ApplyTransform(nil, v, nil)
	require.NoError(t, err)
	assert.True(t, v.Equal(out))
}

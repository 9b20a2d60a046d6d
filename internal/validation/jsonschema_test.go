package validation

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/rendis/formula/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newValidator(t *testing.T) *JSONSchemaValidator {
	t.Helper()
	v, err := NewJSONSchemaValidator(nil)
	require.NoError(t, err)
	return v
}

func TestNewJSONSchemaValidator(t *testing.T) {
	v := newValidator(t)
	assert.NotNil(t, v.bindingsSchema)
	assert.Nil(t, v.extra)
}

func TestNewJSONSchemaValidator_InvalidExtraSchema(t *testing.T) {
	_, err := NewJSONSchemaValidator([]byte(`{"type": 5}`))
	require.Error(t, err)
}

// --- DecodeBindings ---

func TestDecodeBindings_Valid(t *testing.T) {
	v := newValidator(t)

	tests := []struct {
		name string
		raw  string
		want map[string]any
	}{
		{"empty object", `{}`, map[string]any{}},
		{"blank", "  ", map[string]any{}},
		{"scalars", `{"x": 2, "y": 2.5, "s": "a b", "b": true, "n": null}`, map[string]any{
			"x": json.Number("2"), "y": json.Number("2.5"), "s": "a b", "b": true, "n": nil,
		}},
		{"nested arrays", `{"xs": [1, [2, "three"], []]}`, map[string]any{
			"xs": []any{json.Number("1"), []any{json.Number("2"), "three"}, []any{}},
		}},
		{"underscore name", `{"_tmp1": 0}`, map[string]any{"_tmp1": json.Number("0")}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := v.DecodeBindings([]byte(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeBindings_Invalid(t *testing.T) {
	v := newValidator(t)

	tests := []struct {
		name string
		raw  string
	}{
		{"malformed", `{"x": }`},
		{"not an object", `[1, 2]`},
		{"scalar", `42`},
		{"object value", `{"x": {"a": 1}}`},
		{"object inside array", `{"xs": [1, {"a": 1}]}`},
		{"bad name", `{"not-an-identifier": 1}`},
		{"trailing data", `{} {}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.DecodeBindings([]byte(tc.raw))
			require.Error(t, err)
			assert.Equal(t, schema.ErrCodeBinding, schema.CodeOf(err))
		})
	}
}

func TestDecodeBindings_Violations(t *testing.T) {
	v := newValidator(t)
	_, err := v.DecodeBindings([]byte(`{"x": {"a": 1}}`))
	require.Error(t, err)

	fe, ok := err.(*schema.FormulaError)
	require.True(t, ok)
	violations, ok := fe.Details["violations"].([]string)
	require.True(t, ok)
	require.NotEmpty(t, violations)
	assert.Contains(t, violations[0], "/x")
}

func TestDecodeBindings_ExtraSchema(t *testing.T) {
	extra := []byte(`{"type": "object", "required": ["t"], "properties": {"t": {"type": "number", "minimum": 0}}}`)
	v, err := NewJSONSchemaValidator(extra)
	require.NoError(t, err)

	_, err = v.DecodeBindings([]byte(`{"t": 1.5}`))
	require.NoError(t, err)

	_, err = v.DecodeBindings([]byte(`{"t": -1}`))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeBinding, schema.CodeOf(err))

	_, err = v.DecodeBindings([]byte(`{}`))
	require.Error(t, err)
}

// --- ValidateBindings ---

func TestValidateBindings(t *testing.T) {
	v := newValidator(t)

	require.NoError(t, v.ValidateBindings(nil))
	require.NoError(t, v.ValidateBindings(map[string]any{"x": 1, "xs": []any{1.5, "a"}}))

	err := v.ValidateBindings(map[string]any{"x": map[string]any{"a": 1}})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeBinding, schema.CodeOf(err))
}

// --- ValidateInput ---

func TestValidateInput(t *testing.T) {
	v := newValidator(t)
	inputSchema := []byte(`{"type": "object", "required": ["formula"], "properties": {"formula": {"type": "string"}}}`)

	require.NoError(t, v.ValidateInput(map[string]any{"formula": "1 + 1"}, inputSchema))
	require.NoError(t, v.ValidateInput(map[string]any{}, nil))

	err := v.ValidateInput(map[string]any{"formula": 1}, inputSchema)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	err = v.ValidateInput(nil, inputSchema)
	require.Error(t, err)

	err = v.ValidateInput(map[string]any{}, []byte(`not json`))
	require.Error(t, err)
}

func TestValidateInput_CachesSchemas(t *testing.T) {
	v := newValidator(t)
	s := []byte(`{"type": "object"}`)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, v.ValidateInput(map[string]any{}, s))
		}()
	}
	wg.Wait()

	v.mu.RLock()
	defer v.mu.RUnlock()
	assert.Len(t, v.cache, 1)
}

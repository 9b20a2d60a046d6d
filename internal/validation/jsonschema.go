package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rendis/formula/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// bindingsSchemaJSON describes a variable binding set: an object keyed by
// identifiers whose values are null, booleans, numbers, strings or arrays of
// those.
const bindingsSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://formula.dev/schemas/bindings.json",
  "type": "object",
  "propertyNames": {
    "pattern": "^[A-Za-z_][A-Za-z0-9_]*$"
  },
  "additionalProperties": { "$ref": "#/$defs/value" },
  "$defs": {
    "value": {
      "oneOf": [
        { "type": ["null", "boolean", "number", "string"] },
        { "type": "array", "items": { "$ref": "#/$defs/value" } }
      ]
    }
  }
}`

const bindingsSchemaURL = "https://formula.dev/schemas/bindings.json"

// JSONSchemaValidator checks binding sets against the built-in bindings
// schema and, optionally, a caller-supplied schema. It is safe for concurrent use.
type JSONSchemaValidator struct {
	bindingsSchema *jsonschema.Schema
	extra          *jsonschema.Schema

	// mu guards the cache for dynamic schema compilation.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a validator with the bindings schema pre-compiled.
// A non-empty extraSchema further constrains every binding set.
func NewJSONSchemaValidator(extraSchema []byte) (*JSONSchemaValidator, error) {
	c := newCompiler()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(bindingsSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal bindings schema: %w", err)
	}
	if err := c.AddResource(bindingsSchemaURL, schemaDoc); err != nil {
		return nil, fmt.Errorf("add bindings schema resource: %w", err)
	}
	compiled, err := c.Compile(bindingsSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile bindings schema: %w", err)
	}

	v := &JSONSchemaValidator{
		bindingsSchema: compiled,
		cache:          make(map[string]*jsonschema.Schema),
	}
	if len(bytes.TrimSpace(extraSchema)) > 0 {
		if v.extra, err = v.getOrCompile(extraSchema); err != nil {
			return nil, fmt.Errorf("bindings schema: %w", err)
		}
	}
	return v, nil
}

// DecodeBindings parses and validates the JSON text of a binding set. Numbers
// are kept as json.Number so integers and floats stay distinct. Blank input
// is an empty set.
func (v *JSONSchemaValidator) DecodeBindings(raw []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeBinding, "bindings are not valid JSON: %s", err.Error()).WithCause(err)
	}
	if err := v.validate(doc); err != nil {
		return nil, err
	}
	return doc.(map[string]any), nil
}

// ValidateBindings validates an already decoded binding set.
func (v *JSONSchemaValidator) ValidateBindings(bindings map[string]any) error {
	if bindings == nil {
		return nil
	}
	doc, err := toJSONValue(bindings)
	if err != nil {
		return schema.NewError(schema.ErrCodeBinding, "failed to serialize bindings").WithCause(err)
	}
	return v.validate(doc)
}

func (v *JSONSchemaValidator) validate(doc any) error {
	if err := v.bindingsSchema.Validate(doc); err != nil {
		return toFormulaError(err)
	}
	if v.extra != nil {
		if err := v.extra.Validate(doc); err != nil {
			return toFormulaError(err)
		}
	}
	return nil
}

// ValidateInput validates input data against a JSON Schema provided as raw bytes.
// The schema is compiled and cached for subsequent calls with the same schema.
func (v *JSONSchemaValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	if input == nil {
		return schema.NewError(schema.ErrCodeValidation, "input is nil")
	}
	if len(inputSchema) == 0 {
		return nil
	}

	compiled, err := v.getOrCompile(inputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid input schema").WithCause(err)
	}

	doc, err := toJSONValue(input)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize input").WithCause(err)
	}
	if err := compiled.Validate(doc); err != nil {
		fe := toFormulaError(err)
		fe.Code = schema.ErrCodeValidation
		return fe
	}
	return nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each dynamic schema gets a unique URL and its own compiler.
	url := fmt.Sprintf("formula://schema/%d", len(v.cache))
	c := newCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

func newCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(b))
}

// toFormulaError converts a jsonschema.ValidationError into a BINDING_ERROR
// listing every violation.
func toFormulaError(err error) *schema.FormulaError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeBinding, err.Error()).WithCause(err)
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeBinding, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeBinding, "invalid bindings: "+violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	msg := fmt.Sprintf("invalid bindings: %d violations, first %s", len(violations), violations[0])
	return schema.NewError(schema.ErrCodeBinding, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}

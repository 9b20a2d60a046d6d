package validation

// Validator checks variable binding sets before evaluation.
type Validator interface {
	DecodeBindings(raw []byte) (map[string]any, error)
	ValidateBindings(bindings map[string]any) error
}

var _ Validator = (*JSONSchemaValidator)(nil)

package registry

import (
	"context"

	"github.com/rendis/formula/internal/expressions"
	"github.com/rendis/formula/pkg/schema"
)

// Declaration describes a function defined in configuration: a body in one of
// the expression engines, evaluated with the call's arguments bound to Params.
type Declaration struct {
	Name        string   `toml:"name" json:"name"`
	Engine      string   `toml:"engine" json:"engine"`
	Params      []string `toml:"params" json:"params"`
	Body        string   `toml:"body" json:"body"`
	Description string   `toml:"description" json:"description,omitempty"`
}

// Declared is a Function backed by an expression engine.
type Declared struct {
	decl   Declaration
	engine expressions.Engine
}

// NewDeclared validates decl and compiles its body.
func NewDeclared(decl Declaration, engines map[string]expressions.Engine) (*Declared, error) {
	if !identPattern.MatchString(decl.Name) {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "function name %q is not a valid identifier", decl.Name)
	}
	engine, ok := engines[decl.Engine]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "function %q: unknown engine %q", decl.Name, decl.Engine).
			WithDetails(map[string]any{"function": decl.Name, "engine": decl.Engine})
	}
	seen := make(map[string]bool, len(decl.Params))
	for _, p := range decl.Params {
		if !identPattern.MatchString(p) {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "function %q: parameter %q is not a valid identifier", decl.Name, p)
		}
		if seen[p] {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "function %q: duplicate parameter %q", decl.Name, p)
		}
		seen[p] = true
	}
	if decl.Body == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "function %q has an empty body", decl.Name)
	}
	if err := engine.Compile(decl.Body, decl.Params); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "function %q: %s", decl.Name, schema.MessageOf(err)).
			WithCause(err)
	}
	return &Declared{decl: decl, engine: engine}, nil
}

func (d *Declared) Name() string        { return d.decl.Name }
func (d *Declared) Description() string { return d.decl.Description }

// Call binds args to the declared parameters positionally and evaluates the body.
func (d *Declared) Call(ctx context.Context, args []any) (any, error) {
	if len(args) != len(d.decl.Params) {
		return nil, schema.NewErrorf(schema.ErrCodeRuntime, "%s() takes %d arguments (%d given)",
			d.decl.Name, len(d.decl.Params), len(args))
	}
	data := make(map[string]any, len(args))
	for i, p := range d.decl.Params {
		data[p] = args[i]
	}
	return d.engine.Evaluate(ctx, d.decl.Body, data)
}

// LoadDeclarations builds and registers every declaration.
func LoadDeclarations(reg *Registry, decls []Declaration) error {
	if len(decls) == 0 {
		return nil
	}
	engines, err := expressions.NewEngines()
	if err != nil {
		return err
	}
	for _, decl := range decls {
		fn, err := NewDeclared(decl, engines)
		if err != nil {
			return err
		}
		if err := reg.Register(fn); err != nil {
			return err
		}
	}
	return nil
}

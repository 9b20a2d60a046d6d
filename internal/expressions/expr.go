package expressions

import (
	"context"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rendis/formula/pkg/schema"
)

// ExprEngine runs declared function bodies written in expr-lang/expr, for
// example `price * (1 - rate)` or `sum(xs) / len(xs)`. A body sees its
// parameters as untyped variables and nothing else, so a reference to any
// other name fails when the declaration is loaded rather than on first call.
type ExprEngine struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

// NewExprEngine creates an empty engine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{programs: make(map[string]*vm.Program)}
}

// Name returns the engine identifier used in declarations.
func (e *ExprEngine) Name() string {
	return "expr"
}

// Compile checks body against params and caches the program.
func (e *ExprEngine) Compile(body string, params []string) error {
	_, err := e.program(body, sortedCopy(params))
	return err
}

// Evaluate runs body with args bound to its parameters. The expr VM cannot be
// interrupted, so the context is only consulted before the run starts.
func (e *ExprEngine) Evaluate(ctx context.Context, body string, args map[string]any) (any, error) {
	if body == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr body")
	}
	prg, err := e.program(body, paramsOf(args))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}

	out, err := vm.Run(prg, args)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeRuntime, "expr body %q: %s", body, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"engine": "expr", "body": body})
	}
	return out, nil
}

// program returns the compiled body for a parameter list, compiling on a miss.
func (e *ExprEngine) program(body string, params []string) (*vm.Program, error) {
	key := strings.Join(params, ",") + "\x00" + body

	e.mu.RLock()
	prg, ok := e.programs[key]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	// Parameters are declared nil so the checker treats them as any type.
	env := make(map[string]any, len(params))
	for _, p := range params {
		env[p] = nil
	}
	prg, err := expr.Compile(body, expr.Env(env))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "expr body %q does not compile: %s", body, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"engine": "expr", "body": body, "params": params})
	}

	e.mu.Lock()
	e.programs[key] = prg
	e.mu.Unlock()
	return prg, nil
}

var _ Engine = (*ExprEngine)(nil)

package expressions

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"github.com/rendis/formula/pkg/schema"
)

// celInterruptFrequency is how many comprehension iterations run between
// checks of the evaluation context.
const celInterruptFrequency = 100

// CELEngine implements the Engine interface using Google's Common Expression Language.
// Each parameter list gets its own environment in which every parameter is a
// dyn-typed variable.
// Thread-safe: compiled programs are cached and reused across goroutines.
type CELEngine struct {
	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewCELEngine creates a new CEL expression engine.
func NewCELEngine() (*CELEngine, error) {
	return &CELEngine{
		cache: make(map[string]cel.Program),
	}, nil
}

// Name returns the engine identifier.
func (e *CELEngine) Name() string {
	return "cel"
}

// Compile validates and caches a CEL expression for the given parameters.
func (e *CELEngine) Compile(expression string, params []string) error {
	_, err := e.getOrCompile(expression, sortedCopy(params))
	return err
}

// Evaluate compiles (or retrieves from cache) a CEL expression and evaluates it
// with data as the activation. The result is converted to plain Go values.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}

	prg, err := e.getOrCompile(expression, paramsOf(data))
	if err != nil {
		return nil, err
	}

	activation := data
	if activation == nil {
		activation = map[string]any{}
	}

	out, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeRuntime,
			"CEL evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	return celNative(out), nil
}

// getOrCompile returns a cached compiled program or compiles and caches a new one.
func (e *CELEngine) getOrCompile(expression string, params []string) (cel.Program, error) {
	key := strings.Join(params, ",") + "\x00" + expression

	e.mu.RLock()
	if prg, ok := e.cache[key]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if prg, ok := e.cache[key]; ok {
		return prg, nil
	}

	opts := make([]cel.EnvOption, 0, len(params))
	for _, p := range params {
		opts = append(opts, cel.Variable(p, cel.DynType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL environment error for %q: %s", expression, err.Error()).
			WithCause(err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL compile error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": expression})
	}

	prg, err := env.Program(ast, cel.InterruptCheckFrequency(celInterruptFrequency))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL program error for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[key] = prg
	return prg, nil
}

// celNative converts a CEL value into nil, bool, int64, uint64, float64,
// string, []byte, []any or map[string]any.
func celNative(v ref.Val) any {
	switch val := v.(type) {
	case types.Null:
		return nil
	case types.Bool:
		return bool(val)
	case types.Int:
		return int64(val)
	case types.Uint:
		return uint64(val)
	case types.Double:
		return float64(val)
	case types.String:
		return string(val)
	case types.Bytes:
		return []byte(val)
	case traits.Mapper:
		out := map[string]any{}
		for it := val.Iterator(); it.HasNext() == types.True; {
			k := it.Next()
			out[fmt.Sprint(celNative(k))] = celNative(val.Get(k))
		}
		return out
	case traits.Lister:
		var out []any
		for it := val.Iterator(); it.HasNext() == types.True; {
			out = append(out, celNative(it.Next()))
		}
		if out == nil {
			out = []any{}
		}
		return out
	}
	return v.Value()
}

var _ Engine = (*CELEngine)(nil)

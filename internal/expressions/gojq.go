package expressions

import (
	"context"
	"strings"
	"sync"

	"github.com/itchyny/gojq"
	"github.com/rendis/formula/pkg/schema"
)

// GoJQEngine implements the Engine interface using GoJQ. The parameters are
// available both as fields of the input object (.x) and as variables ($x).
// Thread-safe: compiled *Code objects are cached and reused across goroutines.
type GoJQEngine struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewGoJQEngine creates a new GoJQ expression engine.
func NewGoJQEngine() *GoJQEngine {
	return &GoJQEngine{
		cache: make(map[string]*gojq.Code),
	}
}

// Name returns the engine identifier.
func (e *GoJQEngine) Name() string {
	return "jq"
}

// Compile validates and caches a jq program for the given parameters.
func (e *GoJQEngine) Compile(expression string, params []string) error {
	_, err := e.getOrCompile(expression, sortedCopy(params))
	return err
}

// Evaluate compiles (or retrieves from cache) a jq expression and runs it with
// data as the input object.
//
// jq expressions can produce multiple outputs. When there is exactly one output,
// it is returned directly. When there are multiple outputs, they are collected
// into a slice and returned as []any.
func (e *GoJQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	results, err := e.EvaluateAll(ctx, expression, data)
	if err != nil {
		return nil, err
	}
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// EvaluateAll is like Evaluate but always returns a slice of all outputs,
// even if there is only one or zero results.
func (e *GoJQEngine) EvaluateAll(ctx context.Context, expression string, data map[string]any) ([]any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq expression")
	}

	params := paramsOf(data)
	code, err := e.getOrCompile(expression, params)
	if err != nil {
		return nil, err
	}

	input, _ := normalizeForJQ(data).(map[string]any)
	if input == nil {
		input = map[string]any{}
	}
	values := make([]any, len(params))
	for i, p := range params {
		values[i] = input[p]
	}

	iter := code.RunWithContext(ctx, input, values...)

	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeRuntime,
				"jq evaluation failed for %q: %s", expression, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"expression": expression})
		}
		results = append(results, val)
	}
	return results, nil
}

// getOrCompile returns a cached compiled code or compiles and caches a new one.
func (e *GoJQEngine) getOrCompile(expression string, params []string) (*gojq.Code, error) {
	key := strings.Join(params, ",") + "\x00" + expression

	e.mu.RLock()
	if code, ok := e.cache[key]; ok {
		e.mu.RUnlock()
		return code, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if code, ok := e.cache[key]; ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq parse error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	vars := make([]string, len(params))
	for i, p := range params {
		vars[i] = "$" + p
	}
	code, err := gojq.Compile(query,
		gojq.WithVariables(vars),
		// Sandbox: return empty env to block $ENV and env access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[key] = code
	return code, nil
}

// normalizeForJQ converts Go native types to the types gojq accepts: jq
// numbers are int or float64, and arrays and objects must be []any and
// map[string]any.
func normalizeForJQ(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = normalizeForJQ(v)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = normalizeForJQ(v)
		}
		return out
	case int64:
		return int(val)
	case int32:
		return int(val)
	case uint64:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}

var _ Engine = (*GoJQEngine)(nil)

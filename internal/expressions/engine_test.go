package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/rendis/formula/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngines(t *testing.T) {
	engines, err := NewEngines()
	require.NoError(t, err)
	assert.Len(t, engines, 3)
	for _, name := range []string{"expr", "cel", "jq"} {
		e, ok := engines[name]
		require.True(t, ok, name)
		assert.Equal(t, name, e.Name())
	}
}

// --- Interface compliance ---

func TestEngines_ImplementEngine(t *testing.T) {
	var _ Engine = (*ExprEngine)(nil)
	var _ Engine = (*CELEngine)(nil)
	var _ Engine = (*GoJQEngine)(nil)
}

// --- Shared behavior ---

func TestEngines_Evaluate(t *testing.T) {
	engines, err := NewEngines()
	require.NoError(t, err)

	tests := []struct {
		engine string
		body   string
		data   map[string]any
		want   any
	}{
		{"expr", "x * 2 + y", map[string]any{"x": int64(3), "y": int64(1)}, 7},
		{"expr", "x > 1 ? 'big' : 'small'", map[string]any{"x": 2.5}, "big"},
		{"expr", "sum(xs)", map[string]any{"xs": []any{int64(1), int64(2), int64(3)}}, 6},
		{"expr", "name ?? 'anon'", map[string]any{"name": nil}, "anon"},
		{"cel", "x * 2 + y", map[string]any{"x": int64(3), "y": int64(1)}, 7},
		{"cel", "xs.exists(v, v > 2)", map[string]any{"xs": []any{int64(1), int64(3)}}, true},
		{"cel", "size(s)", map[string]any{"s": "hello"}, 5},
		{"cel", "[a, b]", map[string]any{"a": "p", "b": "q"}, []any{"p", "q"}},
		{"jq", ".x * 2 + $y", map[string]any{"x": int64(3), "y": int64(1)}, 7},
		{"jq", "[.xs[] | select(. > 1)]", map[string]any{"xs": []any{int64(1), int64(2), int64(3)}}, []any{2, 3}},
		{"jq", "$a + $b", map[string]any{"a": "x", "b": "y"}, "xy"},
	}
	for _, tc := range tests {
		t.Run(tc.engine+"/"+tc.body, func(t *testing.T) {
			e := engines[tc.engine]
			params := make([]string, 0, len(tc.data))
			for k := range tc.data {
				params = append(params, k)
			}
			require.NoError(t, e.Compile(tc.body, params))

			out, err := e.Evaluate(context.Background(), tc.body, tc.data)
			require.NoError(t, err)
			assert.EqualValues(t, tc.want, out)
		})
	}
}

func TestEngines_CompileErrors(t *testing.T) {
	engines, err := NewEngines()
	require.NoError(t, err)

	tests := []struct {
		engine string
		body   string
		params []string
	}{
		{"expr", "x +", []string{"x"}},
		{"expr", "undeclared + 1", []string{"x"}},
		{"cel", "x +", []string{"x"}},
		{"cel", "undeclared + 1", []string{"x"}},
		{"jq", ".x |", []string{"x"}},
		{"jq", "$undeclared", []string{"x"}},
	}
	for _, tc := range tests {
		t.Run(tc.engine+"/"+tc.body, func(t *testing.T) {
			err := engines[tc.engine].Compile(tc.body, tc.params)
			require.Error(t, err)
			assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
		})
	}
}

func TestEngines_RuntimeErrors(t *testing.T) {
	engines, err := NewEngines()
	require.NoError(t, err)

	tests := []struct {
		engine string
		body   string
		data   map[string]any
	}{
		{"expr", "int(s) + 1", map[string]any{"s": "abc"}},
		{"cel", "x / y", map[string]any{"x": int64(1), "y": int64(0)}},
		{"jq", "error(\"boom\")", map[string]any{"x": int64(1)}},
	}
	for _, tc := range tests {
		t.Run(tc.engine, func(t *testing.T) {
			_, err := engines[tc.engine].Evaluate(context.Background(), tc.body, tc.data)
			require.Error(t, err)
			assert.Equal(t, schema.ErrCodeRuntime, schema.CodeOf(err))
		})
	}
}

func TestEngines_EmptyExpression(t *testing.T) {
	engines, err := NewEngines()
	require.NoError(t, err)
	for name, e := range engines {
		t.Run(name, func(t *testing.T) {
			_, err := e.Evaluate(context.Background(), "", nil)
			require.Error(t, err)
			assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
		})
	}
}

func TestGoJQ_MultipleOutputs(t *testing.T) {
	e := NewGoJQEngine()
	out, err := e.Evaluate(context.Background(), ".xs[]", map[string]any{"xs": []any{int64(1), int64(2)}})
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2}, out)

	out, err = e.Evaluate(context.Background(), "empty", map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGoJQ_NoEnvironmentAccess(t *testing.T) {
	e := NewGoJQEngine()
	out, err := e.Evaluate(context.Background(), "$ENV | length", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 0, out)
}

func TestCEL_NativeConversion(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), "{'a': x, 'b': [1.5, null]}", map[string]any{"x": true})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": true, "b": []any{1.5, nil}}, out)
}

func TestExpr_CancelledBeforeRun(t *testing.T) {
	e := NewExprEngine()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Evaluate(ctx, "x + 1", map[string]any{"x": int64(1)})
	require.ErrorIs(t, err, context.Canceled)
}

func TestExpr_ProgramsArePerParameterList(t *testing.T) {
	e := NewExprEngine()
	require.NoError(t, e.Compile("a + b", []string{"b", "a"}))

	out, err := e.Evaluate(context.Background(), "a + b", map[string]any{"a": int64(2), "b": int64(3)})
	require.NoError(t, err)
	assert.EqualValues(t, 5, out)

	_, err = e.Evaluate(context.Background(), "a + b", map[string]any{"a": int64(2)})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestCEL_Cancellation(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	xs := make([]any, 2000)
	for i := range xs {
		xs[i] = int64(i)
	}
	_, err = e.Evaluate(ctx, "xs.all(a, xs.all(b, a + b >= 0))", map[string]any{"xs": xs})
	require.Error(t, err)
}

// --- Concurrency ---

func TestEngines_ConcurrentEvaluate(t *testing.T) {
	engines, err := NewEngines()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data := map[string]any{"n": int64(i)}
			for name, body := range map[string]string{"expr": "n + 1", "cel": "n + 1", "jq": ".n + 1"} {
				out, err := engines[name].Evaluate(context.Background(), body, data)
				assert.NoError(t, err)
				assert.EqualValues(t, i+1, out)
			}
		}(i)
	}
	wg.Wait()
}

package expressions

import (
	"context"
	"fmt"
	"sort"
)

// Engine evaluates the body of a declared formula function. Bodies see the
// function's parameters as top-level variables.
// Three implementations: Expr (logic), CEL (predicates), GoJQ (reshaping).
type Engine interface {
	Name() string
	// Compile checks a body against its parameter names and caches the result.
	Compile(expression string, params []string) error
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// NewEngines returns one instance of every engine, keyed by name.
func NewEngines() (map[string]Engine, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, fmt.Errorf("create cel engine: %w", err)
	}
	engines := map[string]Engine{}
	for _, e := range []Engine{NewExprEngine(), celEngine, NewGoJQEngine()} {
		engines[e.Name()] = e
	}
	return engines, nil
}

// paramsOf returns the sorted variable names of data.
func paramsOf(data map[string]any) []string {
	params := make([]string, 0, len(data))
	for k := range data {
		params = append(params, k)
	}
	sort.Strings(params)
	return params
}

func sortedCopy(params []string) []string {
	out := append([]string(nil), params...)
	sort.Strings(out)
	return out
}

package formula

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/rendis/formula/internal/registry"
	"github.com/rendis/formula/pkg/schema"
)

// Options configures an Engine.
type Options struct {
	Registry *registry.Registry
	Budget   time.Duration
	Limits   Limits
	Logger   *slog.Logger
}

// Engine evaluates formulas against the sandbox environment. It owns the
// random source reseeded by the seeded-random functions, so evaluations on
// one Engine never overlap; independent Engines share nothing.
type Engine struct {
	env    *Environment
	rng    *Random
	gov    *Governor
	limits Limits
	logger *slog.Logger
}

// NewEngine builds the environment and governor.
func NewEngine(opts Options) (*Engine, error) {
	env, err := NewEnvironment(EnvironmentOptions{Registry: opts.Registry})
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		env:    env,
		rng:    NewRandom(),
		gov:    NewGovernor(opts.Budget),
		limits: opts.Limits.withDefaults(),
		logger: logger,
	}, nil
}

// Environment returns the sandbox environment.
func (e *Engine) Environment() *Environment { return e.env }

// Governor returns the evaluation governor.
func (e *Engine) Governor() *Governor { return e.gov }

// Names returns the free variables of a formula: every identifier that is not
// an environment entry, in source order, duplicates included.
func (e *Engine) Names(text string) ([]string, error) {
	tree, err := Parse(text)
	if err != nil {
		return nil, err
	}
	names := []string{}
	for _, ref := range CollectNames(tree) {
		if !e.env.Has(ref.Name) {
			names = append(names, ref.Name)
		}
	}
	return names, nil
}

// References returns every identifier a formula references, environment
// entries included, in source order with duplicates. Unlike Names it reports a
// binding that shadows an environment name such as e or sum.
func (e *Engine) References(text string) ([]string, error) {
	tree, err := Parse(text)
	if err != nil {
		return nil, err
	}
	return Identifiers(CollectNames(tree)), nil
}

// Prepare parses text, splices the string bindings into it and returns the
// tree to evaluate with the namespace holding the remaining bindings.
func (e *Engine) Prepare(text string, bindings map[string]any) (Node, *Namespace, error) {
	tree, err := Parse(text)
	if err != nil {
		return nil, nil, err
	}

	strs := make(map[string]string)
	vars := make(map[string]Value, len(bindings))
	keys := make([]string, 0, len(bindings))
	for k := range bindings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := bindings[k].(string); ok {
			strs[k] = s
			continue
		}
		v, err := FromDomain(bindings[k])
		if err != nil {
			return nil, nil, schema.NewErrorf(schema.ErrCodeBinding, "binding '%s': %s", k, schema.MessageOf(err)).
				WithCause(err).
				WithDetails(map[string]any{"name": k})
		}
		vars[k] = v
	}

	spliced, err := Splice(text, CollectNames(tree), strs)
	if err != nil {
		return nil, nil, err
	}
	if spliced != text {
		e.logger.Debug("formula spliced", slog.String("formula", text), slog.String("spliced", spliced))
		if tree, err = Parse(spliced); err != nil {
			if fe, ok := err.(*schema.FormulaError); ok {
				details := map[string]any{"spliced": spliced}
				for k, v := range fe.Details {
					details[k] = v
				}
				fe.Details = details
			}
			return nil, nil, err
		}
	}
	return tree, NewNamespace(e.env, vars), nil
}

// Eval evaluates a formula with the given bindings under the governor.
// String bindings are spliced into the source; the rest are bound as values.
func (e *Engine) Eval(ctx context.Context, text string, bindings map[string]any) (Value, error) {
	tree, ns, err := e.Prepare(text, bindings)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, tree, ns)
}

// Run evaluates an already prepared tree under the governor.
func (e *Engine) Run(ctx context.Context, tree Node, ns *Namespace) (Value, error) {
	return e.govern(ctx, func(ctx context.Context) (Value, error) {
		return newMachine(ctx, e.rng, e.limits).Eval(tree, ns)
	})
}

// EvalJSON evaluates a formula and encodes the result. Encoding shares the
// evaluation's budget and is capped at Limits.MaxOutput bytes.
func (e *Engine) EvalJSON(ctx context.Context, text string, bindings map[string]any) ([]byte, error) {
	tree, ns, err := e.Prepare(text, bindings)
	if err != nil {
		return nil, err
	}
	out, err := e.govern(ctx, func(ctx context.Context) (Value, error) {
		v, err := newMachine(ctx, e.rng, e.limits).Eval(tree, ns)
		if err != nil {
			return nil, err
		}
		return EncodeContext(ctx, v, e.limits.MaxOutput)
	})
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

func (e *Engine) govern(ctx context.Context, fn func(ctx context.Context) (Value, error)) (Value, error) {
	start := time.Now()
	v, err := e.gov.Run(ctx, fn)
	if schema.CodeOf(err) == schema.ErrCodeTimeout {
		e.logger.WarnContext(ctx, "evaluation timed out",
			slog.Duration("budget", e.gov.Budget()),
			slog.Duration("elapsed", time.Since(start)))
	}
	return v, err
}

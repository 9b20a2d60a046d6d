package registry

import (
	"context"
	"regexp"
	"sort"
	"sync"

	"github.com/rendis/formula/pkg/schema"
)

// Function is a host-supplied function callable from formulas. Arguments and
// results use the JSON value domain: nil, bool, int64, float64, string,
// []any and map[string]any.
type Function interface {
	Name() string
	Description() string
	Call(ctx context.Context, args []any) (any, error)
}

// Info describes a registered function.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Registry is a thread-safe table of external functions.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Function
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		funcs: make(map[string]Function),
	}
}

// Register adds a function. Returns error on duplicate or invalid name.
func (r *Registry) Register(fn Function) error {
	if fn == nil {
		return schema.NewError(schema.ErrCodeValidation, "function is nil")
	}
	name := fn.Name()
	if !identPattern.MatchString(name) {
		return schema.NewErrorf(schema.ErrCodeValidation, "function name %q is not a valid identifier", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.funcs[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "function %q already registered", name)
	}
	r.funcs[name] = fn
	return nil
}

// RegisterAll registers fns in order, stopping at the first failure.
func (r *Registry) RegisterAll(fns []Function) (int, error) {
	for i, fn := range fns {
		if err := r.Register(fn); err != nil {
			return i, err
		}
	}
	return len(fns), nil
}

// Get retrieves a function by name.
func (r *Registry) Get(name string) (Function, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.funcs[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "function %q not registered", name)
	}
	return fn, nil
}

// Functions returns all registered functions sorted by name.
func (r *Registry) Functions() []Function {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Function, 0, len(r.funcs))
	for _, fn := range r.funcs {
		out = append(out, fn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// List returns info for all registered functions, sorted by name.
func (r *Registry) List() []Info {
	fns := r.Functions()
	infos := make([]Info, len(fns))
	for i, fn := range fns {
		infos[i] = Info{Name: fn.Name(), Description: fn.Description()}
	}
	return infos
}

// Has checks if a function is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.funcs[name]
	return ok
}

// Count returns the number of registered functions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.funcs)
}

// Func adapts a Go function to the Function interface.
type Func struct {
	name string
	desc string
	fn   func(ctx context.Context, args []any) (any, error)
}

// NewFunc creates a Function backed by fn.
func NewFunc(name, description string, fn func(ctx context.Context, args []any) (any, error)) *Func {
	return &Func{name: name, desc: description, fn: fn}
}

func (f *Func) Name() string        { return f.name }
func (f *Func) Description() string { return f.desc }

func (f *Func) Call(ctx context.Context, args []any) (any, error) {
	return f.fn(ctx, args)
}

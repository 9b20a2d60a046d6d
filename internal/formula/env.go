package formula

import (
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"sort"
	"strconv"

	"github.com/rendis/formula/internal/registry"
	"github.com/rendis/formula/pkg/schema"
)

// Category names, in composition order.
const (
	CategoryGeneric  = "generic"
	CategoryMath     = "math"
	CategoryExternal = "external"
	CategoryRandom   = "random"
	CategoryWave     = "wave"
)

// EnvironmentOptions configures NewEnvironment.
type EnvironmentOptions struct {
	// Registry supplies external functions; nil means none.
	Registry *registry.Registry
}

// Environment is the read-only table of names every formula can see.
type Environment struct {
	names    map[string]Value
	category map[string]string
}

// NewEnvironment composes the sandbox from its categories. A name defined by
// two categories is a CONFLICT.
func NewEnvironment(opts EnvironmentOptions) (*Environment, error) {
	env := &Environment{
		names:    make(map[string]Value),
		category: make(map[string]string),
	}

	add := func(cat, name string, v Value) error {
		if keywords[name] {
			return schema.NewErrorf(schema.ErrCodeValidation, "%s name %q is a reserved word", cat, name)
		}
		if prev, ok := env.category[name]; ok {
			return schema.NewErrorf(schema.ErrCodeConflict, "%s name %q is already defined by the %s category", cat, name, prev).
				WithDetails(map[string]any{"name": name, "category": cat, "existing": prev})
		}
		env.names[name] = v
		env.category[name] = cat
		return nil
	}
	addAll := func(cat string, fns []*Builtin) error {
		for _, fn := range fns {
			if err := add(cat, fn.Name(), fn); err != nil {
				return err
			}
		}
		return nil
	}

	if err := addAll(CategoryGeneric, genericBuiltins()); err != nil {
		return nil, err
	}
	if err := addAll(CategoryMath, mathBuiltins()); err != nil {
		return nil, err
	}
	consts := make([]string, 0, len(mathConstants))
	for name := range mathConstants {
		consts = append(consts, name)
	}
	sort.Strings(consts)
	for _, name := range consts {
		if err := add(CategoryMath, name, mathConstants[name]); err != nil {
			return nil, err
		}
	}
	if opts.Registry != nil {
		for _, fn := range opts.Registry.Functions() {
			if err := add(CategoryExternal, fn.Name(), &external{fn: fn}); err != nil {
				return nil, err
			}
		}
	}
	if err := addAll(CategoryRandom, randomBuiltins()); err != nil {
		return nil, err
	}
	if err := addAll(CategoryWave, waveBuiltins()); err != nil {
		return nil, err
	}
	return env, nil
}

// Lookup returns the value bound to name.
func (e *Environment) Lookup(name string) (Value, bool) {
	v, ok := e.names[name]
	return v, ok
}

// Has reports whether name is an environment entry.
func (e *Environment) Has(name string) bool {
	_, ok := e.names[name]
	return ok
}

// Category returns the category that defined name, or "".
func (e *Environment) Category(name string) string {
	return e.category[name]
}

// Names returns every entry name, sorted.
func (e *Environment) Names() []string {
	out := make([]string, 0, len(e.names))
	for name := range e.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Namespace layers per-request bindings over an Environment. Bindings shadow
// environment names; the environment itself is never modified.
type Namespace struct {
	env  *Environment
	vars map[string]Value
}

// NewNamespace creates a namespace over env with the given bindings.
func NewNamespace(env *Environment, vars map[string]Value) *Namespace {
	return &Namespace{env: env, vars: vars}
}

// Lookup resolves a name, bindings first.
func (ns *Namespace) Lookup(name string) (Value, bool) {
	if v, ok := ns.vars[name]; ok {
		return v, true
	}
	if ns.env == nil {
		return nil, false
	}
	return ns.env.Lookup(name)
}

// external adapts a registry function to a Callable.
type external struct {
	fn registry.Function
}

func (e *external) Name() string { return e.fn.Name() }

func (e *external) Call(m *Machine, args []Value, kwargs []KeywordArg) (Value, error) {
	if len(kwargs) > 0 {
		return nil, typeErrorf("%s() takes no keyword arguments", e.fn.Name())
	}
	in := make([]any, len(args))
	for i, a := range args {
		d, err := m.ToDomain(a)
		if err != nil {
			return nil, err
		}
		in[i] = d
	}
	out, err := e.fn.Call(m.ctx, in)
	if err != nil {
		if ctxErr := m.ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, interrupted(ctxErr)
		}
		return nil, wrapExternal(e.fn.Name(), err)
	}
	v, err := FromDomain(out)
	if err != nil {
		return nil, wrapExternal(e.fn.Name(), err)
	}
	return v, nil
}

// ToDomain converts a runtime value into the JSON value domain used by
// external functions.
func (m *Machine) ToDomain(v Value) (any, error) {
	switch x := v.(type) {
	case nil, bool, int64, float64, string:
		return x, nil
	case List, Tuple, *Set, *Range, *Iterator:
		items, err := m.materialize(x)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(items))
		for i, e := range items {
			if out[i], err = m.ToDomain(e); err != nil {
				return nil, err
			}
		}
		return out, nil
	case *Dict:
		out := make(map[string]any, x.Len())
		for i, k := range x.keys {
			ks, ok := k.(string)
			if !ok {
				return nil, typeErrorf("dict keys passed to external functions must be str, not %s", TypeName(k))
			}
			d, err := m.ToDomain(x.vals[i])
			if err != nil {
				return nil, err
			}
			out[ks] = d
		}
		return out, nil
	}
	return nil, typeErrorf("cannot pass '%s' to an external function", TypeName(v))
}

// FromDomain converts a JSON-domain value (as decoded with UseNumber, or as
// returned by an external function) into a runtime value.
func FromDomain(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return x, nil
	case string:
		return x, nil
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case float64:
		return x, nil
	case json.Number:
		if i, err := strconv.ParseInt(x.String(), 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(x.String(), 64)
		if err != nil {
			if errors.Is(err, strconv.ErrRange) {
				return f, nil
			}
			return nil, valueErrorf("invalid number %q", x.String())
		}
		return f, nil
	case []any:
		out := make(List, len(x))
		for i, e := range x {
			c, err := FromDomain(e)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := NewDict()
		for _, k := range keys {
			c, err := FromDomain(x[k])
			if err != nil {
				return nil, err
			}
			_ = d.Set(k, c)
		}
		return d, nil
	}
	return fromReflect(reflect.ValueOf(v))
}

// fromReflect handles the remaining numeric kinds and typed slices and maps.
func fromReflect(rv reflect.Value) (Value, error) {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return float64(u), nil
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Slice, reflect.Array:
		out := make(List, rv.Len())
		for i := range out {
			c, err := FromDomain(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return FromDomain(m)
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return FromDomain(rv.Elem().Interface())
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.String:
		return rv.String(), nil
	}
	if !rv.IsValid() {
		return nil, nil
	}
	return nil, typeErrorf("unsupported value of Go type %s", rv.Type())
}

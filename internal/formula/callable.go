package formula

// Callable is a function value a formula can call.
type Callable interface {
	Name() string
	Call(m *Machine, args []Value, kwargs []KeywordArg) (Value, error)
}

// KeywordArg is a `name=value` argument at a call site.
type KeywordArg struct {
	Name  string
	Value Value
}

// Builtin is a Go-implemented function.
type Builtin struct {
	name string
	fn   func(m *Machine, a *Args) (Value, error)
}

// NewBuiltin wraps fn as a callable named name.
func NewBuiltin(name string, fn func(m *Machine, a *Args) (Value, error)) *Builtin {
	return &Builtin{name: name, fn: fn}
}

func (b *Builtin) Name() string { return b.name }

func (b *Builtin) Call(m *Machine, args []Value, kwargs []KeywordArg) (Value, error) {
	return b.fn(m, &Args{fn: b.name, Pos: args, Kw: kwargs})
}

// Args holds the arguments of one builtin invocation.
type Args struct {
	fn  string
	Pos []Value
	Kw  []KeywordArg
}

// param describes one parameter of a builtin signature.
type param struct {
	name     string
	def      Value
	optional bool
	kwOnly   bool
}

func req(name string) param { return param{name: name} }

func opt(name string, def Value) param { return param{name: name, def: def, optional: true} }

func kwonly(name string, def Value) param {
	return param{name: name, def: def, optional: true, kwOnly: true}
}

// bind maps the call's arguments onto params, filling defaults.
func (a *Args) bind(params ...param) ([]Value, error) {
	out := make([]Value, len(params))
	set := make([]bool, len(params))

	positional := 0
	for _, p := range params {
		if !p.kwOnly {
			positional++
		}
	}
	if len(a.Pos) > positional {
		required := 0
		for _, p := range params {
			if !p.optional && !p.kwOnly {
				required++
			}
		}
		if required == positional {
			return nil, typeErrorf("%s() takes %d positional argument%s but %d were given", a.fn, positional, plural(positional), len(a.Pos))
		}
		return nil, typeErrorf("%s() takes from %d to %d positional arguments but %d were given", a.fn, required, positional, len(a.Pos))
	}
	for i, v := range a.Pos {
		out[i] = v
		set[i] = true
	}

	for _, kw := range a.Kw {
		idx := -1
		for i, p := range params {
			if p.name == kw.Name {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, typeErrorf("%s() got an unexpected keyword argument '%s'", a.fn, kw.Name)
		}
		if set[idx] {
			return nil, typeErrorf("%s() got multiple values for argument '%s'", a.fn, kw.Name)
		}
		out[idx] = kw.Value
		set[idx] = true
	}

	for i, p := range params {
		if set[i] {
			continue
		}
		if !p.optional {
			return nil, typeErrorf("%s() missing required argument: '%s'", a.fn, p.name)
		}
		out[i] = p.def
	}
	return out, nil
}

// noKeywords rejects keyword arguments for builtins that take none.
func (a *Args) noKeywords() error {
	if len(a.Kw) > 0 {
		return typeErrorf("%s() takes no keyword arguments", a.fn)
	}
	return nil
}

// exactly checks a positional-only arity with no keywords.
func (a *Args) exactly(n int) error {
	if err := a.noKeywords(); err != nil {
		return err
	}
	if len(a.Pos) != n {
		return arityError(a.fn, n, n, len(a.Pos))
	}
	return nil
}

// between checks a positional-only arity range with no keywords.
func (a *Args) between(min, max int) error {
	if err := a.noKeywords(); err != nil {
		return err
	}
	if len(a.Pos) < min || (max >= 0 && len(a.Pos) > max) {
		return arityError(a.fn, min, max, len(a.Pos))
	}
	return nil
}

// keyword pops a keyword argument by name, returning def when absent.
func (a *Args) keyword(name string, def Value) Value {
	for i, kw := range a.Kw {
		if kw.Name == name {
			a.Kw = append(a.Kw[:i:i], a.Kw[i+1:]...)
			return kw.Value
		}
	}
	return def
}

// shift drops the first positional argument.
func (a *Args) shift() *Args {
	return &Args{fn: a.fn, Pos: a.Pos[1:], Kw: a.Kw}
}

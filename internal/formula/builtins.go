package formula

import (
	"errors"
	"math"
	"math/big"
	"sort"
	"strconv"
)

// genericBuiltins returns the general-purpose functions every formula sees.
func genericBuiltins() []*Builtin {
	return []*Builtin{
		NewBuiltin("abs", builtinAbs),
		NewBuiltin("all", builtinAll),
		NewBuiltin("any", builtinAny),
		NewBuiltin("divmod", builtinDivmod),
		NewBuiltin("filter", builtinFilter),
		NewBuiltin("len", builtinLen),
		NewBuiltin("list", builtinList),
		NewBuiltin("map", builtinMap),
		NewBuiltin("max", func(m *Machine, a *Args) (Value, error) { return minMax(m, a, true) }),
		NewBuiltin("min", func(m *Machine, a *Args) (Value, error) { return minMax(m, a, false) }),
		NewBuiltin("next", builtinNext),
		NewBuiltin("pow", builtinPow),
		NewBuiltin("range", builtinRange),
		NewBuiltin("reversed", builtinReversed),
		NewBuiltin("round", builtinRound),
		NewBuiltin("slice", builtinSlice),
		NewBuiltin("sorted", builtinSorted),
		NewBuiltin("sum", builtinSum),
	}
}

func builtinAbs(_ *Machine, a *Args) (Value, error) {
	if err := a.exactly(1); err != nil {
		return nil, err
	}
	x := a.Pos[0]
	if i, ok := asInt(x); ok {
		if i == math.MinInt64 {
			return nil, intOverflow()
		}
		if i < 0 {
			return -i, nil
		}
		return i, nil
	}
	if f, ok := x.(float64); ok {
		return math.Abs(f), nil
	}
	return nil, typeErrorf("bad operand type for abs(): '%s'", TypeName(x))
}

func builtinAll(m *Machine, a *Args) (Value, error) {
	return truthScan(m, a, false)
}

func builtinAny(m *Machine, a *Args) (Value, error) {
	return truthScan(m, a, true)
}

// truthScan returns want as soon as an element's truth equals want.
func truthScan(m *Machine, a *Args, want bool) (Value, error) {
	if err := a.exactly(1); err != nil {
		return nil, err
	}
	result := !want
	err := m.iterate(a.Pos[0], func(e Value) error {
		if Truthy(e) == want {
			result = want
			return errStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, err
	}
	return result, nil
}

func builtinDivmod(_ *Machine, a *Args) (Value, error) {
	if err := a.exactly(2); err != nil {
		return nil, err
	}
	x, y := a.Pos[0], a.Pos[1]
	if xi, ok := asInt(x); ok {
		if yi, ok := asInt(y); ok {
			q, err := floorDivInt(xi, yi)
			if err != nil {
				return nil, err
			}
			r, _ := modInt(xi, yi)
			return Tuple{q, r}, nil
		}
	}
	xf, ok1 := asFloat(x)
	yf, ok2 := asFloat(y)
	if !ok1 || !ok2 {
		return nil, unsupportedOperands("divmod()", x, y)
	}
	if yf == 0 {
		return nil, zeroDivision("float divmod()")
	}
	q, r := floatDivmod(xf, yf)
	return Tuple{q, r}, nil
}

func builtinFilter(m *Machine, a *Args) (Value, error) {
	if err := a.exactly(2); err != nil {
		return nil, err
	}
	pred := a.Pos[0]
	src, err := m.iterator(a.Pos[1])
	if err != nil {
		return nil, err
	}
	return &Iterator{kind: "filter", next: func() (Value, bool, error) {
		for {
			v, ok, err := src.Next()
			if err != nil || !ok {
				return nil, false, err
			}
			if err := m.Tick(); err != nil {
				return nil, false, err
			}
			keep := v
			if pred != nil {
				if keep, err = m.Apply(pred, v); err != nil {
					return nil, false, err
				}
			}
			if Truthy(keep) {
				return v, true, nil
			}
		}
	}}, nil
}

func builtinLen(_ *Machine, a *Args) (Value, error) {
	if err := a.exactly(1); err != nil {
		return nil, err
	}
	return length(a.Pos[0])
}

func builtinList(m *Machine, a *Args) (Value, error) {
	if err := a.between(0, 1); err != nil {
		return nil, err
	}
	if len(a.Pos) == 0 {
		return List{}, nil
	}
	items, err := m.materialize(a.Pos[0])
	if err != nil {
		return nil, err
	}
	return List(append([]Value(nil), items...)), nil
}

func builtinMap(m *Machine, a *Args) (Value, error) {
	if err := a.noKeywords(); err != nil {
		return nil, err
	}
	if len(a.Pos) < 2 {
		return nil, typeErrorf("map() must have at least two arguments.")
	}
	fn := a.Pos[0]
	srcs := make([]*Iterator, len(a.Pos)-1)
	for i, v := range a.Pos[1:] {
		it, err := m.iterator(v)
		if err != nil {
			return nil, err
		}
		srcs[i] = it
	}
	return &Iterator{kind: "map", next: func() (Value, bool, error) {
		args := make([]Value, len(srcs))
		for i, src := range srcs {
			v, ok, err := src.Next()
			if err != nil || !ok {
				return nil, false, err
			}
			args[i] = v
		}
		v, err := m.Apply(fn, args...)
		if err != nil {
			return nil, false, err
		}
		return v, true, nil
	}}, nil
}

// minMax implements max() and min(): either one iterable with optional key
// and default, or two or more positional values.
func minMax(m *Machine, a *Args, wantMax bool) (Value, error) {
	key := a.keyword("key", nil)
	def := a.keyword("default", absent{})
	_, noDefault := def.(absent)
	hasDefault := !noDefault
	if len(a.Kw) > 0 {
		return nil, typeErrorf("%s() got an unexpected keyword argument '%s'", a.fn, a.Kw[0].Name)
	}
	if len(a.Pos) == 0 {
		return nil, typeErrorf("%s expected at least 1 argument, got 0", a.fn)
	}

	var items Value = Tuple(a.Pos)
	if len(a.Pos) == 1 {
		items = a.Pos[0]
	} else if hasDefault {
		return nil, typeErrorf("Cannot specify a default for %s() with multiple positional arguments", a.fn)
	}

	var best, bestKey Value
	found := false
	err := m.iterate(items, func(e Value) error {
		k := e
		if key != nil {
			var err error
			if k, err = m.Apply(key, e); err != nil {
				return err
			}
		}
		if !found {
			best, bestKey, found = e, k, true
			return nil
		}
		var better bool
		var err error
		if wantMax {
			better, err = m.less(">", bestKey, k)
		} else {
			better, err = m.less("<", k, bestKey)
		}
		if err != nil {
			return err
		}
		if better {
			best, bestKey = e, k
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		if hasDefault {
			return def, nil
		}
		return nil, valueErrorf("%s() iterable argument is empty", a.fn)
	}
	return best, nil
}

func builtinNext(m *Machine, a *Args) (Value, error) {
	if err := a.between(1, 2); err != nil {
		return nil, err
	}
	it, ok := a.Pos[0].(*Iterator)
	if !ok {
		return nil, typeErrorf("'%s' object is not an iterator", TypeName(a.Pos[0]))
	}
	v, ok, err := it.Next()
	if err != nil {
		return nil, err
	}
	if !ok {
		if len(a.Pos) == 2 {
			return a.Pos[1], nil
		}
		return nil, runtimeErr(kindStopIter, "iterator is exhausted")
	}
	return v, nil
}

func builtinPow(_ *Machine, a *Args) (Value, error) {
	vals, err := a.bind(req("base"), req("exp"), opt("mod", nil))
	if err != nil {
		return nil, err
	}
	if vals[2] == nil {
		return power(vals[0], vals[1])
	}
	base, ok1 := asInt(vals[0])
	exp, ok2 := asInt(vals[1])
	mod, ok3 := asInt(vals[2])
	if !ok1 || !ok2 || !ok3 {
		return nil, typeErrorf("pow() 3rd argument not allowed unless all arguments are integers")
	}
	if mod == 0 {
		return nil, valueErrorf("pow() 3rd argument cannot be 0")
	}
	bb, be, bm := big.NewInt(base), big.NewInt(exp), big.NewInt(mod)
	absMod := new(big.Int).Abs(bm)
	if exp < 0 {
		inv := new(big.Int).ModInverse(new(big.Int).Mod(bb, absMod), absMod)
		if inv == nil {
			return nil, valueErrorf("base is not invertible for the given modulus")
		}
		bb, be = inv, new(big.Int).Neg(be)
	}
	r := new(big.Int).Exp(bb, be, absMod)
	if mod < 0 && r.Sign() != 0 {
		r.Add(r, bm)
	}
	return r.Int64(), nil
}

// absent marks an omitted optional argument where None is a valid value.
type absent struct{}

// rangeArg accepts ints and bools, as Python's __index__ would.
func rangeArg(v Value) (int64, error) {
	if i, ok := asInt(v); ok {
		return i, nil
	}
	return 0, typeErrorf("'%s' object cannot be interpreted as an integer", TypeName(v))
}

func builtinRange(_ *Machine, a *Args) (Value, error) {
	if err := a.between(1, 3); err != nil {
		return nil, err
	}
	ints := make([]int64, len(a.Pos))
	for i, v := range a.Pos {
		n, err := rangeArg(v)
		if err != nil {
			return nil, err
		}
		ints[i] = n
	}
	r := &Range{Step: 1}
	switch len(ints) {
	case 1:
		r.Stop = ints[0]
	case 2:
		r.Start, r.Stop = ints[0], ints[1]
	default:
		r.Start, r.Stop, r.Step = ints[0], ints[1], ints[2]
		if r.Step == 0 {
			return nil, valueErrorf("range() arg 3 must not be zero")
		}
	}
	return r, nil
}

func builtinReversed(m *Machine, a *Args) (Value, error) {
	if err := a.exactly(1); err != nil {
		return nil, err
	}
	var items []Value
	switch s := a.Pos[0].(type) {
	case *Range:
		n := s.Len()
		if n == 0 {
			return &Iterator{kind: "range_iterator", next: func() (Value, bool, error) { return nil, false, nil }}, nil
		}
		last := s.At(n - 1)
		return m.iterator(&Range{Start: last, Stop: s.Start - s.Step, Step: -s.Step})
	case List, Tuple, string, *Dict:
		var err error
		if items, err = m.materialize(s); err != nil {
			return nil, err
		}
	default:
		return nil, typeErrorf("'%s' object is not reversible", TypeName(a.Pos[0]))
	}
	i := len(items)
	return &Iterator{kind: "reversed", next: func() (Value, bool, error) {
		if i == 0 {
			return nil, false, nil
		}
		i--
		return items[i], true, nil
	}}, nil
}

func builtinRound(_ *Machine, a *Args) (Value, error) {
	vals, err := a.bind(req("number"), opt("ndigits", nil))
	if err != nil {
		return nil, err
	}
	x, nd := vals[0], vals[1]
	if nd == nil {
		if i, ok := asInt(x); ok {
			return i, nil
		}
		f, ok := x.(float64)
		if !ok {
			return nil, typeErrorf("type %s doesn't define __round__ method", TypeName(x))
		}
		return floatToInt(math.RoundToEven(f))
	}
	n, ok := asInt(nd)
	if !ok {
		return nil, typeErrorf("'%s' object cannot be interpreted as an integer", TypeName(nd))
	}
	if i, ok := asInt(x); ok {
		if n >= 0 {
			return i, nil
		}
		if n < -18 {
			return int64(0), nil
		}
		p := int64(math.Pow10(int(-n)))
		q, _ := floorDivInt(i, p)
		r := i - q*p
		if 2*r > p || (2*r == p && q%2 != 0) {
			q++
		}
		return mulInt(q, p)
	}
	f, ok := x.(float64)
	if !ok {
		return nil, typeErrorf("type %s doesn't define __round__ method", TypeName(x))
	}
	return roundFloat(f, n), nil
}

// roundFloat rounds f to n decimal places using the shortest correctly
// rounded decimal representation.
func roundFloat(f float64, n int64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f == 0 {
		return f
	}
	switch {
	case n > 323:
		return f
	case n >= 0:
		r, _ := strconv.ParseFloat(strconv.FormatFloat(f, 'f', int(n), 64), 64)
		return r
	case n < -308:
		return math.Copysign(0, f)
	}
	p := math.Pow10(int(-n))
	return math.RoundToEven(f/p) * p
}

// floatToInt converts an integral float to int, rejecting inf, NaN and
// values outside the 64-bit range.
func floatToInt(f float64) (Value, error) {
	switch {
	case math.IsNaN(f):
		return nil, valueErrorf("cannot convert float NaN to integer")
	case math.IsInf(f, 0):
		return nil, overflowErrorf("cannot convert float infinity to integer")
	case f >= 1<<63 || f < -(1<<63):
		return nil, intOverflow()
	}
	return int64(f), nil
}

func builtinSlice(_ *Machine, a *Args) (Value, error) {
	if err := a.between(1, 3); err != nil {
		return nil, err
	}
	switch len(a.Pos) {
	case 1:
		return &SliceValue{Hi: a.Pos[0]}, nil
	case 2:
		return &SliceValue{Lo: a.Pos[0], Hi: a.Pos[1]}, nil
	}
	return &SliceValue{Lo: a.Pos[0], Hi: a.Pos[1], Step: a.Pos[2]}, nil
}

func builtinSorted(m *Machine, a *Args) (Value, error) {
	vals, err := a.bind(req("iterable"), kwonly("key", nil), kwonly("reverse", false))
	if err != nil {
		return nil, err
	}
	items, err := m.materialize(vals[0])
	if err != nil {
		return nil, err
	}
	type entry struct{ key, val Value }
	entries := make([]entry, len(items))
	for i, v := range items {
		k := v
		if vals[1] != nil {
			if k, err = m.Apply(vals[1], v); err != nil {
				return nil, err
			}
		}
		entries[i] = entry{key: k, val: v}
	}
	reverse := Truthy(vals[2])
	var sortErr error
	sort.SliceStable(entries, func(i, j int) bool {
		if sortErr != nil {
			return false
		}
		x, y := entries[i].key, entries[j].key
		if reverse {
			x, y = y, x
		}
		lt, err := m.less("<", x, y)
		if err != nil {
			sortErr = err
		}
		return lt
	})
	if sortErr != nil {
		return nil, sortErr
	}
	out := make(List, len(entries))
	for i, e := range entries {
		out[i] = e.val
	}
	return out, nil
}

func builtinSum(m *Machine, a *Args) (Value, error) {
	vals, err := a.bind(req("iterable"), opt("start", int64(0)))
	if err != nil {
		return nil, err
	}
	if _, ok := vals[1].(string); ok {
		return nil, typeErrorf("sum() can't sum strings [use ''.join(seq) instead]")
	}
	total := vals[1]
	err = m.iterate(vals[0], func(e Value) error {
		var err error
		total, err = m.add(total, e)
		return err
	})
	if err != nil {
		return nil, err
	}
	return total, nil
}

package formula

import (
	"math"
	"strings"
)

// asInt reports v as an integer if it is an int or a bool.
func asInt(v Value) (int64, bool) {
	switch v := v.(type) {
	case int64:
		return v, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// asFloat reports v as a float if it is any number.
func asFloat(v Value) (float64, bool) {
	if f, ok := v.(float64); ok {
		return f, true
	}
	if i, ok := asInt(v); ok {
		return float64(i), true
	}
	return 0, false
}

func isNumber(v Value) bool {
	_, ok := asFloat(v)
	return ok
}

func intOverflow() error {
	return overflowErrorf("integer result exceeds the 64-bit range")
}

func addInt(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, intOverflow()
	}
	return a + b, nil
}

func subInt(a, b int64) (int64, error) {
	if (b < 0 && a > math.MaxInt64+b) || (b > 0 && a < math.MinInt64+b) {
		return 0, intOverflow()
	}
	return a - b, nil
}

func mulInt(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	c := a * b
	if c/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, intOverflow()
	}
	return c, nil
}

func powInt(base, exp int64) (int64, error) {
	result := int64(1)
	for exp > 0 {
		var err error
		if exp&1 == 1 {
			if result, err = mulInt(result, base); err != nil {
				return 0, err
			}
		}
		exp >>= 1
		if exp > 0 {
			if base, err = mulInt(base, base); err != nil {
				return 0, err
			}
		}
	}
	return result, nil
}

func floorDivInt(a, b int64) (int64, error) {
	if b == 0 {
		return 0, zeroDivision("integer division or modulo by zero")
	}
	if a == math.MinInt64 && b == -1 {
		return 0, intOverflow()
	}
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q, nil
}

func modInt(a, b int64) (int64, error) {
	if b == 0 {
		return 0, zeroDivision("integer division or modulo by zero")
	}
	r := a % b
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return r, nil
}

// floatDivmod follows CPython's float divmod so that the quotient is floored
// and the remainder takes the sign of the divisor.
func floatDivmod(x, y float64) (float64, float64) {
	mod := math.Mod(x, y)
	div := (x - mod) / y
	if mod != 0 {
		if (y < 0) != (mod < 0) {
			mod += y
			div--
		}
	} else {
		mod = math.Copysign(0, y)
	}
	var floordiv float64
	if div != 0 {
		floordiv = math.Floor(div)
		if div-floordiv > 0.5 {
			floordiv++
		}
	} else {
		floordiv = math.Copysign(0, x/y)
	}
	return floordiv, mod
}

func unaryOp(op string, x Value) (Value, error) {
	if i, ok := asInt(x); ok {
		switch op {
		case "-":
			if i == math.MinInt64 {
				return nil, intOverflow()
			}
			return -i, nil
		case "+":
			return i, nil
		case "~":
			return ^i, nil
		}
	}
	if f, ok := x.(float64); ok {
		switch op {
		case "-":
			return -f, nil
		case "+":
			return f, nil
		}
	}
	return nil, typeErrorf("bad operand type for unary %s: '%s'", op, TypeName(x))
}

func (m *Machine) binaryOp(op string, x, y Value) (Value, error) {
	switch op {
	case "+":
		return m.add(x, y)
	case "-":
		return m.sub(x, y)
	case "*":
		return m.mul(x, y)
	case "/":
		return trueDiv(x, y)
	case "//":
		return floorDiv(x, y)
	case "%":
		return mod(x, y)
	case "**":
		return power(x, y)
	case "&", "|", "^":
		return m.bitwise(op, x, y)
	case "<<", ">>":
		return shift(op, x, y)
	}
	return nil, typeErrorf("unknown operator %s", op)
}

func (m *Machine) add(x, y Value) (Value, error) {
	if a, ok := asInt(x); ok {
		if b, ok := asInt(y); ok {
			return addInt(a, b)
		}
	}
	if a, ok := asFloat(x); ok {
		if b, ok := asFloat(y); ok {
			return a + b, nil
		}
	}
	switch a := x.(type) {
	case string:
		if b, ok := y.(string); ok {
			if err := m.checkLen(int64(len(a) + len(b))); err != nil {
				return nil, err
			}
			return a + b, nil
		}
	case List:
		if b, ok := y.(List); ok {
			return List(concat(a, b)), m.checkLen(int64(len(a) + len(b)))
		}
	case Tuple:
		if b, ok := y.(Tuple); ok {
			return Tuple(concat(a, b)), m.checkLen(int64(len(a) + len(b)))
		}
	}
	if _, ok := x.(string); ok {
		return nil, typeErrorf("can only concatenate str (not \"%s\") to str", TypeName(y))
	}
	if _, ok := x.(List); ok {
		return nil, typeErrorf("can only concatenate list (not \"%s\") to list", TypeName(y))
	}
	return nil, unsupportedOperands("+", x, y)
}

func concat(a, b []Value) []Value {
	out := make([]Value, 0, len(a)+len(b))
	return append(append(out, a...), b...)
}

func (m *Machine) sub(x, y Value) (Value, error) {
	if a, ok := asInt(x); ok {
		if b, ok := asInt(y); ok {
			return subInt(a, b)
		}
	}
	if a, ok := asFloat(x); ok {
		if b, ok := asFloat(y); ok {
			return a - b, nil
		}
	}
	if a, ok := x.(*Set); ok {
		if b, ok := y.(*Set); ok {
			return setFilter(a, func(v Value) bool { has, _ := b.Has(v); return !has }), nil
		}
	}
	return nil, unsupportedOperands("-", x, y)
}

func (m *Machine) mul(x, y Value) (Value, error) {
	if a, ok := asInt(x); ok {
		if b, ok := asInt(y); ok {
			return mulInt(a, b)
		}
	}
	if a, ok := asFloat(x); ok {
		if b, ok := asFloat(y); ok {
			return a * b, nil
		}
	}
	if n, ok := asInt(y); ok {
		if v, ok, err := m.repeat(x, n); ok {
			return v, err
		}
	}
	if n, ok := asInt(x); ok {
		if v, ok, err := m.repeat(y, n); ok {
			return v, err
		}
	}
	return nil, unsupportedOperands("*", x, y)
}

// repeat implements sequence * int.
func (m *Machine) repeat(seq Value, n int64) (Value, bool, error) {
	if n < 0 {
		n = 0
	}
	var size int64
	switch s := seq.(type) {
	case string:
		size = int64(len(s))
	case List:
		size = int64(len(s))
	case Tuple:
		size = int64(len(s))
	default:
		return nil, false, nil
	}
	if size > 0 && n > int64(m.limits.MaxSequence)/size {
		return nil, true, m.checkLen(int64(m.limits.MaxSequence) + 1)
	}
	switch s := seq.(type) {
	case string:
		return strings.Repeat(s, int(n)), true, nil
	case List:
		return List(repeatValues(s, n)), true, nil
	default:
		return Tuple(repeatValues(seq.(Tuple), n)), true, nil
	}
}

func repeatValues(s []Value, n int64) []Value {
	out := make([]Value, 0, int64(len(s))*n)
	for i := int64(0); i < n; i++ {
		out = append(out, s...)
	}
	return out
}

func trueDiv(x, y Value) (Value, error) {
	a, ok1 := asFloat(x)
	b, ok2 := asFloat(y)
	if !ok1 || !ok2 {
		return nil, unsupportedOperands("/", x, y)
	}
	if b == 0 {
		return nil, zeroDivision("division by zero")
	}
	ai, aInt := asInt(x)
	bi, bInt := asInt(y)
	if aInt && bInt && ai%bi == 0 && !(ai == math.MinInt64 && bi == -1) {
		return float64(ai / bi), nil
	}
	return a / b, nil
}

func floorDiv(x, y Value) (Value, error) {
	if a, ok := asInt(x); ok {
		if b, ok := asInt(y); ok {
			return floorDivInt(a, b)
		}
	}
	a, ok1 := asFloat(x)
	b, ok2 := asFloat(y)
	if !ok1 || !ok2 {
		return nil, unsupportedOperands("//", x, y)
	}
	if b == 0 {
		return nil, zeroDivision("float floor division by zero")
	}
	q, _ := floatDivmod(a, b)
	return q, nil
}

func mod(x, y Value) (Value, error) {
	if a, ok := asInt(x); ok {
		if b, ok := asInt(y); ok {
			return modInt(a, b)
		}
	}
	a, ok1 := asFloat(x)
	b, ok2 := asFloat(y)
	if !ok1 || !ok2 {
		return nil, unsupportedOperands("%", x, y)
	}
	if b == 0 {
		return nil, zeroDivision("float modulo by zero")
	}
	_, r := floatDivmod(a, b)
	return r, nil
}

func power(x, y Value) (Value, error) {
	if a, ok := asInt(x); ok {
		if b, ok := asInt(y); ok {
			if b >= 0 {
				return powInt(a, b)
			}
			if a == 0 {
				return nil, zeroDivision("0.0 cannot be raised to a negative power")
			}
			return math.Pow(float64(a), float64(b)), nil
		}
	}
	a, ok1 := asFloat(x)
	b, ok2 := asFloat(y)
	if !ok1 || !ok2 {
		return nil, unsupportedOperands("** or pow()", x, y)
	}
	return floatPow(a, b)
}

func floatPow(a, b float64) (Value, error) {
	if a == 0 && b < 0 {
		return nil, zeroDivision("0.0 cannot be raised to a negative power")
	}
	if a < 0 && b != math.Trunc(b) && !math.IsInf(b, 0) {
		return nil, valueErrorf("negative number cannot be raised to a fractional power")
	}
	r := math.Pow(a, b)
	if math.IsInf(r, 0) && !math.IsInf(a, 0) && !math.IsInf(b, 0) {
		return nil, overflowErrorf("numerical result out of range")
	}
	return r, nil
}

func (m *Machine) bitwise(op string, x, y Value) (Value, error) {
	if a, ok := x.(bool); ok {
		if b, ok := y.(bool); ok {
			switch op {
			case "&":
				return a && b, nil
			case "|":
				return a || b, nil
			default:
				return a != b, nil
			}
		}
	}
	if a, ok := asInt(x); ok {
		if b, ok := asInt(y); ok {
			switch op {
			case "&":
				return a & b, nil
			case "|":
				return a | b, nil
			default:
				return a ^ b, nil
			}
		}
	}
	if a, ok := x.(*Set); ok {
		if b, ok := y.(*Set); ok {
			switch op {
			case "&":
				return setFilter(a, func(v Value) bool { has, _ := b.Has(v); return has }), nil
			case "|":
				out := setFilter(a, func(Value) bool { return true })
				for _, v := range b.items {
					_ = out.Add(v)
				}
				return out, nil
			default:
				out := setFilter(a, func(v Value) bool { has, _ := b.Has(v); return !has })
				for _, v := range b.items {
					if has, _ := a.Has(v); !has {
						_ = out.Add(v)
					}
				}
				return out, nil
			}
		}
	}
	if a, ok := x.(*Dict); ok && op == "|" {
		if b, ok := y.(*Dict); ok {
			out := NewDict()
			for _, d := range []*Dict{a, b} {
				for i, k := range d.keys {
					_ = out.Set(k, d.vals[i])
				}
			}
			return out, nil
		}
	}
	return nil, unsupportedOperands(op, x, y)
}

func setFilter(s *Set, keep func(Value) bool) *Set {
	out := NewSet()
	for _, v := range s.items {
		if keep(v) {
			_ = out.Add(v)
		}
	}
	return out
}

func shift(op string, x, y Value) (Value, error) {
	a, ok1 := asInt(x)
	b, ok2 := asInt(y)
	if !ok1 || !ok2 {
		return nil, unsupportedOperands(op, x, y)
	}
	if b < 0 {
		return nil, valueErrorf("negative shift count")
	}
	if op == ">>" {
		if b >= 63 {
			if a < 0 {
				return int64(-1), nil
			}
			return int64(0), nil
		}
		return a >> uint(b), nil
	}
	if a == 0 {
		return int64(0), nil
	}
	if b >= 63 || (a<<uint(b))>>uint(b) != a {
		return nil, intOverflow()
	}
	return a << uint(b), nil
}

// --- Comparison ---

func (m *Machine) compare(op string, x, y Value) (bool, error) {
	switch op {
	case "==":
		return m.equal(x, y)
	case "!=":
		eq, err := m.equal(x, y)
		return !eq && err == nil, err
	case "<":
		return m.less(op, x, y)
	case ">":
		return m.less(op, y, x)
	case "<=":
		lt, err := m.less(op, x, y)
		if err != nil || lt {
			return lt, err
		}
		return m.equal(x, y)
	case ">=":
		gt, err := m.less(op, y, x)
		if err != nil || gt {
			return gt, err
		}
		return m.equal(x, y)
	case "in":
		return m.contains(y, x)
	case "not in":
		in, err := m.contains(y, x)
		return !in, err
	case "is":
		return identical(x, y), nil
	case "is not":
		return !identical(x, y), nil
	}
	return false, typeErrorf("unknown comparison %s", op)
}

// equal reports x == y. Every element visited counts as a step, so comparing
// large nested sequences stays interruptible.
func (m *Machine) equal(x, y Value) (bool, error) {
	if err := m.Tick(); err != nil {
		return false, err
	}
	if isNumber(x) && isNumber(y) {
		return numEqual(x, y), nil
	}
	switch a := x.(type) {
	case nil:
		return y == nil, nil
	case string:
		b, ok := y.(string)
		return ok && a == b, nil
	case List:
		b, ok := y.(List)
		if !ok {
			return false, nil
		}
		return m.seqEqual(a, b)
	case Tuple:
		b, ok := y.(Tuple)
		if !ok {
			return false, nil
		}
		return m.seqEqual(a, b)
	case *Dict:
		b, ok := y.(*Dict)
		if !ok || a.Len() != b.Len() {
			return false, nil
		}
		for i, k := range a.keys {
			bv, found, err := b.Get(k)
			if err != nil || !found {
				return false, nil
			}
			if eq, err := m.equal(a.vals[i], bv); err != nil || !eq {
				return false, err
			}
		}
		return true, nil
	case *Set:
		b, ok := y.(*Set)
		if !ok || len(a.items) != len(b.items) {
			return false, nil
		}
		return m.subset(a, b)
	case *Range:
		b, ok := y.(*Range)
		if !ok || a.Len() != b.Len() {
			return false, nil
		}
		n := a.Len()
		return n == 0 || (a.Start == b.Start && (n == 1 || a.Step == b.Step)), nil
	case *SliceValue:
		b, ok := y.(*SliceValue)
		if !ok {
			return false, nil
		}
		for _, pair := range [][2]Value{{a.Lo, b.Lo}, {a.Hi, b.Hi}, {a.Step, b.Step}} {
			if eq, err := m.equal(pair[0], pair[1]); err != nil || !eq {
				return false, err
			}
		}
		return true, nil
	case *Iterator:
		b, ok := y.(*Iterator)
		return ok && a == b, nil
	case Callable:
		b, ok := y.(Callable)
		return ok && a.Name() == b.Name(), nil
	}
	return false, nil
}

// subset reports whether every element of a is in b.
func (m *Machine) subset(a, b *Set) (bool, error) {
	for _, v := range a.items {
		if err := m.Tick(); err != nil {
			return false, err
		}
		if has, _ := b.Has(v); !has {
			return false, nil
		}
	}
	return true, nil
}

func numEqual(x, y Value) bool {
	if a, ok := asInt(x); ok {
		if b, ok := asInt(y); ok {
			return a == b
		}
		return intFloatCmp(a, y.(float64)) == 0
	}
	if b, ok := asInt(y); ok {
		return intFloatCmp(b, x.(float64)) == 0
	}
	return x.(float64) == y.(float64)
}

// intFloatCmp compares an int with a float exactly; NaN compares as 2.
func intFloatCmp(i int64, f float64) int {
	switch {
	case math.IsNaN(f):
		return 2
	case f >= 1<<63:
		return -1
	case f < -(1 << 63):
		return 1
	}
	t := math.Trunc(f)
	ti := int64(t)
	switch {
	case i < ti:
		return -1
	case i > ti:
		return 1
	case f > t:
		return -1
	case f < t:
		return 1
	}
	return 0
}

func (m *Machine) seqEqual(a, b []Value) (bool, error) {
	if len(a) != len(b) {
		return false, nil
	}
	for i := range a {
		if eq, err := m.equal(a[i], b[i]); err != nil || !eq {
			return false, err
		}
	}
	return true, nil
}

// less reports x < y; op names the operator for error messages.
func (m *Machine) less(op string, x, y Value) (bool, error) {
	if err := m.Tick(); err != nil {
		return false, err
	}
	if isNumber(x) && isNumber(y) {
		if a, ok := asInt(x); ok {
			if b, ok := asInt(y); ok {
				return a < b, nil
			}
			return intFloatCmp(a, y.(float64)) == -1, nil
		}
		if b, ok := asInt(y); ok {
			return intFloatCmp(b, x.(float64)) == 1, nil
		}
		return x.(float64) < y.(float64), nil
	}
	switch a := x.(type) {
	case string:
		if b, ok := y.(string); ok {
			return a < b, nil
		}
	case List:
		if b, ok := y.(List); ok {
			return m.seqLess(op, a, b)
		}
	case Tuple:
		if b, ok := y.(Tuple); ok {
			return m.seqLess(op, a, b)
		}
	case *Set:
		if b, ok := y.(*Set); ok {
			if len(a.items) >= len(b.items) {
				return false, nil
			}
			return m.subset(a, b)
		}
	}
	l, r := x, y
	if op == ">" || op == ">=" {
		l, r = y, x
	}
	return false, typeErrorf("'%s' not supported between instances of '%s' and '%s'", op, TypeName(l), TypeName(r))
}

func (m *Machine) seqLess(op string, a, b []Value) (bool, error) {
	for i := 0; i < len(a) && i < len(b); i++ {
		eq, err := m.equal(a[i], b[i])
		if err != nil {
			return false, err
		}
		if !eq {
			return m.less(op, a[i], b[i])
		}
	}
	return len(a) < len(b), nil
}

func identical(x, y Value) bool {
	switch a := x.(type) {
	case nil:
		return y == nil
	case bool:
		b, ok := y.(bool)
		return ok && a == b
	case int64:
		b, ok := y.(int64)
		return ok && a == b
	case string:
		b, ok := y.(string)
		return ok && a == b
	case *Dict, *Set, *Range, *Iterator, *SliceValue:
		return x == y
	case Callable:
		b, ok := y.(Callable)
		return ok && a.Name() == b.Name()
	}
	return false
}

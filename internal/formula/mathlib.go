package formula

import (
	"math"
)

// mathConstants are the numeric constants of the math category.
var mathConstants = map[string]Value{
	"pi":  math.Pi,
	"e":   math.E,
	"tau": 2 * math.Pi,
	"inf": math.Inf(1),
	"nan": math.NaN(),
}

// unaryMath lists float -> float functions with their domain checks.
var unaryMath = []struct {
	name   string
	fn     func(float64) float64
	domain func(float64) bool
}{
	{"acos", math.Acos, func(x float64) bool { return x >= -1 && x <= 1 }},
	{"acosh", math.Acosh, func(x float64) bool { return x >= 1 }},
	{"asin", math.Asin, func(x float64) bool { return x >= -1 && x <= 1 }},
	{"asinh", math.Asinh, nil},
	{"atan", math.Atan, nil},
	{"atanh", math.Atanh, func(x float64) bool { return x > -1 && x < 1 }},
	{"cbrt", math.Cbrt, nil},
	{"cos", math.Cos, finite},
	{"cosh", math.Cosh, nil},
	{"degrees", func(x float64) float64 { return x * 180 / math.Pi }, nil},
	{"erf", math.Erf, nil},
	{"erfc", math.Erfc, nil},
	{"exp", math.Exp, nil},
	{"exp2", math.Exp2, nil},
	{"expm1", math.Expm1, nil},
	{"fabs", math.Abs, nil},
	{"gamma", math.Gamma, func(x float64) bool { return !(x <= 0 && x == math.Trunc(x)) && !math.IsInf(x, -1) }},
	{"lgamma", func(x float64) float64 { l, _ := math.Lgamma(x); return l }, func(x float64) bool { return !(x <= 0 && x == math.Trunc(x)) || math.IsInf(x, -1) }},
	{"log10", math.Log10, positive},
	{"log1p", math.Log1p, func(x float64) bool { return x > -1 }},
	{"log2", math.Log2, positive},
	{"radians", func(x float64) float64 { return x * math.Pi / 180 }, nil},
	{"sin", math.Sin, finite},
	{"sinh", math.Sinh, nil},
	{"sqrt", math.Sqrt, func(x float64) bool { return x >= 0 }},
	{"tan", math.Tan, finite},
	{"tanh", math.Tanh, nil},
}

func finite(x float64) bool   { return !math.IsInf(x, 0) }
func positive(x float64) bool { return x > 0 }

func domainError() error { return valueErrorf("math domain error") }
func rangeError() error  { return overflowErrorf("math range error") }

// checkResult maps IEEE special results onto Python's math exceptions.
func checkResult(r float64, inputs ...float64) (Value, error) {
	for _, x := range inputs {
		if math.IsNaN(x) {
			return r, nil
		}
	}
	if math.IsNaN(r) {
		return nil, domainError()
	}
	if math.IsInf(r, 0) {
		for _, x := range inputs {
			if math.IsInf(x, 0) {
				return r, nil
			}
		}
		return nil, rangeError()
	}
	return r, nil
}

func floatArg(fn string, v Value) (float64, error) {
	if f, ok := asFloat(v); ok {
		return f, nil
	}
	return 0, typeErrorf("%s() must be a real number, not %s", fn, TypeName(v))
}

func intArg(fn string, v Value) (int64, error) {
	if i, ok := asInt(v); ok {
		return i, nil
	}
	return 0, typeErrorf("%s() '%s' object cannot be interpreted as an integer", fn, TypeName(v))
}

func floatArgs(a *Args, n int) ([]float64, error) {
	if err := a.exactly(n); err != nil {
		return nil, err
	}
	out := make([]float64, n)
	for i, v := range a.Pos {
		f, err := floatArg(a.fn, v)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

// mathBuiltins returns the math category. pow is left out; the generic pow
// already covers it.
func mathBuiltins() []*Builtin {
	var out []*Builtin
	for _, u := range unaryMath {
		u := u
		out = append(out, NewBuiltin(u.name, func(_ *Machine, a *Args) (Value, error) {
			xs, err := floatArgs(a, 1)
			if err != nil {
				return nil, err
			}
			x := xs[0]
			if u.domain != nil && !math.IsNaN(x) && !u.domain(x) {
				return nil, domainError()
			}
			return checkResult(u.fn(x), x)
		}))
	}

	binary := map[string]func(x, y float64) (Value, error){
		"atan2":    func(y, x float64) (Value, error) { return math.Atan2(y, x), nil },
		"copysign": func(x, y float64) (Value, error) { return math.Copysign(x, y), nil },
		"fmod": func(x, y float64) (Value, error) {
			if y == 0 || math.IsInf(x, 0) {
				if !math.IsNaN(x) && !math.IsNaN(y) {
					return nil, domainError()
				}
			}
			return math.Mod(x, y), nil
		},
		"remainder": func(x, y float64) (Value, error) {
			if (y == 0 || math.IsInf(x, 0)) && !math.IsNaN(x) && !math.IsNaN(y) {
				return nil, domainError()
			}
			return math.Remainder(x, y), nil
		},
		"nextafter": func(x, y float64) (Value, error) { return math.Nextafter(x, y), nil },
	}
	for name, fn := range binary {
		fn := fn
		out = append(out, NewBuiltin(name, func(_ *Machine, a *Args) (Value, error) {
			xs, err := floatArgs(a, 2)
			if err != nil {
				return nil, err
			}
			return fn(xs[0], xs[1])
		}))
	}

	out = append(out,
		NewBuiltin("ceil", func(_ *Machine, a *Args) (Value, error) { return roundingFn(a, math.Ceil) }),
		NewBuiltin("floor", func(_ *Machine, a *Args) (Value, error) { return roundingFn(a, math.Floor) }),
		NewBuiltin("trunc", func(_ *Machine, a *Args) (Value, error) { return roundingFn(a, math.Trunc) }),
		NewBuiltin("isfinite", floatPredicate(func(x float64) bool { return !math.IsInf(x, 0) && !math.IsNaN(x) })),
		NewBuiltin("isinf", floatPredicate(func(x float64) bool { return math.IsInf(x, 0) })),
		NewBuiltin("isnan", floatPredicate(math.IsNaN)),
		NewBuiltin("log", mathLog),
		NewBuiltin("ldexp", mathLdexp),
		NewBuiltin("frexp", mathFrexp),
		NewBuiltin("modf", mathModf),
		NewBuiltin("ulp", mathUlp),
		NewBuiltin("isclose", mathIsclose),
		NewBuiltin("hypot", mathHypot),
		NewBuiltin("dist", mathDist),
		NewBuiltin("fsum", mathFsum),
		NewBuiltin("prod", mathProd),
		NewBuiltin("factorial", mathFactorial),
		NewBuiltin("comb", mathComb),
		NewBuiltin("perm", mathPerm),
		NewBuiltin("gcd", func(_ *Machine, a *Args) (Value, error) { return gcdLcm(a, false) }),
		NewBuiltin("lcm", func(_ *Machine, a *Args) (Value, error) { return gcdLcm(a, true) }),
		NewBuiltin("isqrt", mathIsqrt),
	)
	return out
}

func roundingFn(a *Args, fn func(float64) float64) (Value, error) {
	if err := a.exactly(1); err != nil {
		return nil, err
	}
	if i, ok := asInt(a.Pos[0]); ok {
		return i, nil
	}
	f, err := floatArg(a.fn, a.Pos[0])
	if err != nil {
		return nil, err
	}
	return floatToInt(fn(f))
}

func floatPredicate(fn func(float64) bool) func(*Machine, *Args) (Value, error) {
	return func(_ *Machine, a *Args) (Value, error) {
		xs, err := floatArgs(a, 1)
		if err != nil {
			return nil, err
		}
		return fn(xs[0]), nil
	}
}

func mathLog(_ *Machine, a *Args) (Value, error) {
	if err := a.between(1, 2); err != nil {
		return nil, err
	}
	x, err := floatArg("log", a.Pos[0])
	if err != nil {
		return nil, err
	}
	if !math.IsNaN(x) && x <= 0 {
		return nil, domainError()
	}
	if len(a.Pos) == 1 {
		return checkResult(math.Log(x), x)
	}
	base, err := floatArg("log", a.Pos[1])
	if err != nil {
		return nil, err
	}
	if !math.IsNaN(base) && base <= 0 {
		return nil, domainError()
	}
	denom := math.Log(base)
	if denom == 0 {
		return nil, zeroDivision("float division by zero")
	}
	return checkResult(math.Log(x)/denom, x, base)
}

func mathLdexp(_ *Machine, a *Args) (Value, error) {
	if err := a.exactly(2); err != nil {
		return nil, err
	}
	x, err := floatArg("ldexp", a.Pos[0])
	if err != nil {
		return nil, err
	}
	e, err := intArg("ldexp", a.Pos[1])
	if err != nil {
		return nil, err
	}
	if e > math.MaxInt32 {
		e = math.MaxInt32
	} else if e < math.MinInt32 {
		e = math.MinInt32
	}
	return checkResult(math.Ldexp(x, int(e)), x)
}

func mathFrexp(_ *Machine, a *Args) (Value, error) {
	xs, err := floatArgs(a, 1)
	if err != nil {
		return nil, err
	}
	frac, exp := math.Frexp(xs[0])
	return Tuple{frac, int64(exp)}, nil
}

func mathModf(_ *Machine, a *Args) (Value, error) {
	xs, err := floatArgs(a, 1)
	if err != nil {
		return nil, err
	}
	x := xs[0]
	if math.IsInf(x, 0) {
		return Tuple{math.Copysign(0, x), x}, nil
	}
	ip, frac := math.Modf(x)
	return Tuple{frac, ip}, nil
}

func mathUlp(_ *Machine, a *Args) (Value, error) {
	xs, err := floatArgs(a, 1)
	if err != nil {
		return nil, err
	}
	x := math.Abs(xs[0])
	switch {
	case math.IsNaN(x), math.IsInf(x, 0):
		return x, nil
	case x == math.MaxFloat64:
		return x - math.Nextafter(x, 0), nil
	}
	return math.Nextafter(x, math.Inf(1)) - x, nil
}

func mathIsclose(_ *Machine, a *Args) (Value, error) {
	vals, err := a.bind(req("a"), req("b"), kwonly("rel_tol", 1e-9), kwonly("abs_tol", 0.0))
	if err != nil {
		return nil, err
	}
	fs := make([]float64, 4)
	for i, v := range vals {
		if fs[i], err = floatArg("isclose", v); err != nil {
			return nil, err
		}
	}
	x, y, rel, abs := fs[0], fs[1], fs[2], fs[3]
	if rel < 0 || abs < 0 {
		return nil, valueErrorf("tolerances must be non-negative")
	}
	if x == y {
		return true, nil
	}
	if math.IsInf(x, 0) || math.IsInf(y, 0) {
		return false, nil
	}
	diff := math.Abs(y - x)
	return diff <= math.Abs(rel*y) || diff <= math.Abs(rel*x) || diff <= abs, nil
}

func mathHypot(_ *Machine, a *Args) (Value, error) {
	if err := a.noKeywords(); err != nil {
		return nil, err
	}
	coords := make([]float64, len(a.Pos))
	for i, v := range a.Pos {
		f, err := floatArg("hypot", v)
		if err != nil {
			return nil, err
		}
		coords[i] = f
	}
	return checkResult(hypot(coords), coords...)
}

func hypot(coords []float64) float64 {
	r := 0.0
	for _, c := range coords {
		if math.IsInf(c, 0) {
			return math.Inf(1)
		}
	}
	for _, c := range coords {
		r = math.Hypot(r, c)
	}
	return r
}

func mathDist(m *Machine, a *Args) (Value, error) {
	if err := a.exactly(2); err != nil {
		return nil, err
	}
	p, err := m.materialize(a.Pos[0])
	if err != nil {
		return nil, err
	}
	q, err := m.materialize(a.Pos[1])
	if err != nil {
		return nil, err
	}
	if len(p) != len(q) {
		return nil, valueErrorf("both points must have the same number of dimensions")
	}
	diffs := make([]float64, len(p))
	for i := range p {
		x, err := floatArg("dist", p[i])
		if err != nil {
			return nil, err
		}
		y, err := floatArg("dist", q[i])
		if err != nil {
			return nil, err
		}
		diffs[i] = x - y
	}
	return hypot(diffs), nil
}

// mathFsum sums with Neumaier compensation, which is exact for all practical
// inputs.
func mathFsum(m *Machine, a *Args) (Value, error) {
	if err := a.exactly(1); err != nil {
		return nil, err
	}
	var sum, comp float64
	specials := 0.0
	hasSpecial := false
	err := m.iterate(a.Pos[0], func(e Value) error {
		x, err := floatArg("fsum", e)
		if err != nil {
			return err
		}
		if math.IsInf(x, 0) || math.IsNaN(x) {
			specials += x
			hasSpecial = true
			return nil
		}
		t := sum + x
		if math.Abs(sum) >= math.Abs(x) {
			comp += (sum - t) + x
		} else {
			comp += (x - t) + sum
		}
		sum = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	if hasSpecial {
		if math.IsNaN(specials) {
			return nil, domainError()
		}
		return specials, nil
	}
	r := sum + comp
	if math.IsInf(r, 0) {
		return nil, overflowErrorf("intermediate overflow in fsum")
	}
	return r, nil
}

func mathProd(m *Machine, a *Args) (Value, error) {
	vals, err := a.bind(req("iterable"), kwonly("start", int64(1)))
	if err != nil {
		return nil, err
	}
	total := vals[1]
	err = m.iterate(vals[0], func(e Value) error {
		var err error
		total, err = m.mul(total, e)
		return err
	})
	if err != nil {
		return nil, err
	}
	return total, nil
}

func nonNegInt(fn string, v Value) (int64, error) {
	n, err := intArg(fn, v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, valueErrorf("%s() not defined for negative values", fn)
	}
	return n, nil
}

func mathFactorial(_ *Machine, a *Args) (Value, error) {
	if err := a.exactly(1); err != nil {
		return nil, err
	}
	n, err := nonNegInt("factorial", a.Pos[0])
	if err != nil {
		return nil, err
	}
	r := int64(1)
	for i := int64(2); i <= n; i++ {
		if r, err = mulInt(r, i); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// mathPerm computes n!/(n-k)!, or n! when k is omitted.
func mathPerm(_ *Machine, a *Args) (Value, error) {
	if err := a.between(1, 2); err != nil {
		return nil, err
	}
	n, err := nonNegInt("perm", a.Pos[0])
	if err != nil {
		return nil, err
	}
	k := n
	if len(a.Pos) == 2 && a.Pos[1] != nil {
		if k, err = nonNegInt("perm", a.Pos[1]); err != nil {
			return nil, err
		}
	}
	if k > n {
		return int64(0), nil
	}
	r := int64(1)
	for i := n - k + 1; i <= n; i++ {
		if r, err = mulInt(r, i); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func mathComb(_ *Machine, a *Args) (Value, error) {
	if err := a.exactly(2); err != nil {
		return nil, err
	}
	n, err := nonNegInt("comb", a.Pos[0])
	if err != nil {
		return nil, err
	}
	k, err := nonNegInt("comb", a.Pos[1])
	if err != nil {
		return nil, err
	}
	if k > n {
		return int64(0), nil
	}
	if k > n-k {
		k = n - k
	}
	r := int64(1)
	for i := int64(1); i <= k; i++ {
		// r * (n-k+i) / i is exact at every step; divide through the gcd first
		// to delay overflow.
		num := n - k + i
		g := gcd(r, i)
		rr, ii := r/g, i/g
		num /= ii
		if r, err = mulInt(rr, num); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func gcd(a, b int64) int64 {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func gcdLcm(a *Args, lcm bool) (Value, error) {
	if err := a.noKeywords(); err != nil {
		return nil, err
	}
	acc := int64(0)
	if lcm {
		acc = 1
	}
	for _, v := range a.Pos {
		n, err := intArg(a.fn, v)
		if err != nil {
			return nil, err
		}
		if n == math.MinInt64 {
			return nil, intOverflow()
		}
		if !lcm {
			acc = gcd(acc, n)
			continue
		}
		if n == 0 || acc == 0 {
			acc = 0
			continue
		}
		if acc, err = mulInt(acc/gcd(acc, n), n); err != nil {
			return nil, err
		}
		if acc < 0 {
			acc = -acc
		}
	}
	return acc, nil
}

func mathIsqrt(_ *Machine, a *Args) (Value, error) {
	if err := a.exactly(1); err != nil {
		return nil, err
	}
	n, err := intArg("isqrt", a.Pos[0])
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, valueErrorf("isqrt() argument must be nonnegative")
	}
	r := int64(math.Sqrt(float64(n)))
	for r > 0 && (r > n/r) {
		r--
	}
	for (r+1) <= n/(r+1) {
		r++
	}
	return r, nil
}

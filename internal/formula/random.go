package formula

import (
	"hash/fnv"
	"math"
	"math/rand/v2"
	"sort"
)

// Random is the engine's reseedable generator. Every seeded-random builtin
// resets it from its seed argument immediately before drawing, so a draw
// depends only on the seed and the remaining arguments.
type Random struct {
	src *rand.PCG
	rng *rand.Rand
}

// NewRandom creates a generator. Its initial state is never observed because
// every draw is preceded by a reseed.
func NewRandom() *Random {
	src := rand.NewPCG(0, 0)
	return &Random{src: src, rng: rand.New(src)}
}

// pcgStream separates the second PCG word from the first.
const pcgStream = 0x9e3779b97f4a7c15

// Seed resets the generator from a formula value.
func (r *Random) Seed(seed Value) error {
	s, err := seedBits(seed)
	if err != nil {
		return err
	}
	r.src.Seed(s, s^pcgStream)
	return nil
}

func seedBits(seed Value) (uint64, error) {
	switch v := seed.(type) {
	case bool, int64:
		i, _ := asInt(v)
		return uint64(i), nil
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1<<63 {
			return uint64(int64(v)), nil
		}
		return math.Float64bits(v), nil
	case string:
		h := fnv.New64a()
		_, _ = h.Write([]byte(v))
		return h.Sum64(), nil
	}
	return 0, typeErrorf("seed must be an int, float, str or bool, not %s", TypeName(seed))
}

// Float64 returns a float in [0, 1).
func (r *Random) Float64() float64 { return r.rng.Float64() }

func (r *Random) below(n int64) int64 { return r.rng.Int64N(n) }

// randomNames lists the seeded family in a fixed order.
var randomNames = []string{
	"getrandbits", "randrange", "randint", "choice", "choices", "shuffle", "sample",
	"random", "uniform", "triangular", "betavariate", "expovariate", "gammavariate",
	"gauss", "lognormvariate", "normalvariate", "vonmisesvariate", "paretovariate",
	"weibullvariate",
}

var randomImpls = map[string]func(m *Machine, a *Args) (Value, error){
	"getrandbits":     randGetrandbits,
	"randrange":       randRandrange,
	"randint":         randRandint,
	"choice":          randChoice,
	"choices":         randChoices,
	"shuffle":         randShuffle,
	"sample":          randSample,
	"random":          randRandom,
	"uniform":         randUniform,
	"triangular":      randTriangular,
	"betavariate":     randBeta,
	"expovariate":     randExpo,
	"gammavariate":    randGamma,
	"gauss":           randGauss,
	"lognormvariate":  randLognorm,
	"normalvariate":   randNormal,
	"vonmisesvariate": randVonMises,
	"paretovariate":   randPareto,
	"weibullvariate":  randWeibull,
}

// randomBuiltins wraps each distribution so that its first argument is the seed.
func randomBuiltins() []*Builtin {
	out := make([]*Builtin, 0, len(randomNames))
	for _, name := range randomNames {
		impl := randomImpls[name]
		out = append(out, NewBuiltin(name, func(m *Machine, a *Args) (Value, error) {
			var seed Value
			rest := a
			if len(a.Pos) > 0 {
				seed, rest = a.Pos[0], a.shift()
			} else {
				rest = &Args{fn: a.fn, Kw: append([]KeywordArg(nil), a.Kw...)}
				seed = rest.keyword("seed", absent{})
				if _, missing := seed.(absent); missing {
					return nil, typeErrorf("%s() missing required argument: 'seed'", a.fn)
				}
			}
			if err := m.rng.Seed(seed); err != nil {
				return nil, err
			}
			return impl(m, rest)
		}))
	}
	return out
}

// --- Integer draws ---

func randGetrandbits(m *Machine, a *Args) (Value, error) {
	vals, err := a.bind(req("k"))
	if err != nil {
		return nil, err
	}
	k, err := intArg("getrandbits", vals[0])
	if err != nil {
		return nil, err
	}
	switch {
	case k < 0:
		return nil, valueErrorf("number of bits must be non-negative")
	case k > 63:
		return nil, valueErrorf("number of bits must be at most 63")
	case k == 0:
		return int64(0), nil
	}
	return int64(m.rng.rng.Uint64() >> (64 - k)), nil
}

func randRandrange(m *Machine, a *Args) (Value, error) {
	vals, err := a.bind(req("start"), opt("stop", nil), opt("step", int64(1)))
	if err != nil {
		return nil, err
	}
	start, err := rangeArg(vals[0])
	if err != nil {
		return nil, err
	}
	if vals[1] == nil {
		if start > 0 {
			return m.rng.below(start), nil
		}
		return nil, valueErrorf("empty range for randrange()")
	}
	stop, err := rangeArg(vals[1])
	if err != nil {
		return nil, err
	}
	step, err := rangeArg(vals[2])
	if err != nil {
		return nil, err
	}
	return randrange(m, start, stop, step)
}

func randrange(m *Machine, start, stop, step int64) (Value, error) {
	width, err := subInt(stop, start)
	if err != nil {
		return nil, err
	}
	if step == 1 {
		if width > 0 {
			return start + m.rng.below(width), nil
		}
		return nil, valueErrorf("empty range in randrange(%d, %d)", start, stop)
	}
	var n int64
	switch {
	case step > 0:
		n, _ = floorDivInt(width+step-1, step)
	case step < 0:
		n, _ = floorDivInt(width+step+1, step)
	default:
		return nil, valueErrorf("zero step for randrange()")
	}
	if n <= 0 {
		return nil, valueErrorf("empty range for randrange()")
	}
	return start + step*m.rng.below(n), nil
}

func randRandint(m *Machine, a *Args) (Value, error) {
	vals, err := a.bind(req("a"), req("b"))
	if err != nil {
		return nil, err
	}
	lo, err := rangeArg(vals[0])
	if err != nil {
		return nil, err
	}
	hi, err := rangeArg(vals[1])
	if err != nil {
		return nil, err
	}
	stop, err := addInt(hi, 1)
	if err != nil {
		return nil, err
	}
	return randrange(m, lo, stop, 1)
}

// --- Sequence draws ---

// population materializes a sequence argument of choice, choices and sample.
func (m *Machine) population(v Value) ([]Value, error) {
	switch v.(type) {
	case List, Tuple, string, *Range:
		return m.materialize(v)
	}
	return nil, typeErrorf("population must be a sequence, not %s", TypeName(v))
}

func randChoice(m *Machine, a *Args) (Value, error) {
	vals, err := a.bind(req("seq"))
	if err != nil {
		return nil, err
	}
	if r, ok := vals[0].(*Range); ok {
		if r.Len() == 0 {
			return nil, indexErrorf("cannot choose from an empty sequence")
		}
		return r.At(m.rng.below(r.Len())), nil
	}
	seq, err := m.population(vals[0])
	if err != nil {
		return nil, err
	}
	if len(seq) == 0 {
		return nil, indexErrorf("cannot choose from an empty sequence")
	}
	return seq[m.rng.below(int64(len(seq)))], nil
}

func randChoices(m *Machine, a *Args) (Value, error) {
	vals, err := a.bind(req("population"), opt("weights", nil), kwonly("cum_weights", nil), kwonly("k", int64(1)))
	if err != nil {
		return nil, err
	}
	pop, err := m.population(vals[0])
	if err != nil {
		return nil, err
	}
	k, err := intArg("choices", vals[3])
	if err != nil {
		return nil, err
	}
	if k < 0 {
		k = 0
	}
	if err := m.checkLen(k); err != nil {
		return nil, err
	}
	n := len(pop)
	out := make(List, 0, k)

	if vals[1] == nil && vals[2] == nil {
		if n == 0 {
			if k == 0 {
				return out, nil
			}
			return nil, indexErrorf("cannot choose from an empty population")
		}
		for i := int64(0); i < k; i++ {
			out = append(out, pop[int(m.rng.Float64()*float64(n))])
		}
		return out, nil
	}
	if vals[1] != nil && vals[2] != nil {
		return nil, typeErrorf("cannot specify both weights and cumulative weights")
	}

	var cum []float64
	if vals[2] != nil {
		ws, err := m.floatSeq("choices", vals[2])
		if err != nil {
			return nil, err
		}
		cum = ws
	} else {
		ws, err := m.floatSeq("choices", vals[1])
		if err != nil {
			return nil, err
		}
		cum = make([]float64, len(ws))
		total := 0.0
		for i, w := range ws {
			total += w
			cum[i] = total
		}
	}
	if len(cum) != n {
		return nil, valueErrorf("the number of weights does not match the population")
	}
	if n == 0 {
		return nil, indexErrorf("cannot choose from an empty population")
	}
	total := cum[n-1]
	if total <= 0 {
		return nil, valueErrorf("total of weights must be greater than zero")
	}
	if math.IsInf(total, 0) || math.IsNaN(total) {
		return nil, valueErrorf("total of weights must be finite")
	}
	for i := int64(0); i < k; i++ {
		x := m.rng.Float64() * total
		j := sort.Search(n-1, func(j int) bool { return cum[j] > x })
		out = append(out, pop[j])
	}
	return out, nil
}

func (m *Machine) floatSeq(fn string, v Value) ([]float64, error) {
	items, err := m.materialize(v)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(items))
	for i, e := range items {
		if out[i], err = floatArg(fn, e); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// randShuffle returns a shuffled copy; formula values are immutable.
func randShuffle(m *Machine, a *Args) (Value, error) {
	vals, err := a.bind(req("x"))
	if err != nil {
		return nil, err
	}
	items, err := m.population(vals[0])
	if err != nil {
		return nil, err
	}
	out := append(List(nil), items...)
	for i := len(out) - 1; i > 0; i-- {
		j := m.rng.below(int64(i + 1))
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func randSample(m *Machine, a *Args) (Value, error) {
	vals, err := a.bind(req("population"), req("k"), kwonly("counts", nil))
	if err != nil {
		return nil, err
	}
	pop, err := m.population(vals[0])
	if err != nil {
		return nil, err
	}
	k, err := intArg("sample", vals[1])
	if err != nil {
		return nil, err
	}

	if vals[2] != nil {
		counts, err := m.materialize(vals[2])
		if err != nil {
			return nil, err
		}
		if len(counts) != len(pop) {
			return nil, valueErrorf("the number of counts does not match the population")
		}
		cum := make([]int64, len(counts))
		var total int64
		for i, c := range counts {
			n, err := intArg("sample", c)
			if err != nil {
				return nil, err
			}
			if total, err = addInt(total, n); err != nil {
				return nil, err
			}
			cum[i] = total
		}
		if total <= 0 {
			return nil, valueErrorf("total of counts must be greater than zero")
		}
		picks, err := sampleIndices(m, total, k)
		if err != nil {
			return nil, err
		}
		out := make(List, len(picks))
		for i, s := range picks {
			out[i] = pop[sort.Search(len(cum), func(j int) bool { return cum[j] > s })]
		}
		return out, nil
	}

	picks, err := sampleIndices(m, int64(len(pop)), k)
	if err != nil {
		return nil, err
	}
	out := make(List, len(picks))
	for i, p := range picks {
		out[i] = pop[p]
	}
	return out, nil
}

// sampleIndices draws k distinct indices from [0, n) by partial Fisher-Yates
// over a virtual pool.
func sampleIndices(m *Machine, n, k int64) ([]int64, error) {
	if k < 0 || k > n {
		return nil, valueErrorf("sample larger than population or is negative")
	}
	if err := m.checkLen(k); err != nil {
		return nil, err
	}
	swapped := make(map[int64]int64, k)
	at := func(i int64) int64 {
		if v, ok := swapped[i]; ok {
			return v
		}
		return i
	}
	out := make([]int64, k)
	for i := int64(0); i < k; i++ {
		if err := m.Tick(); err != nil {
			return nil, err
		}
		j := m.rng.below(n - i)
		out[i] = at(j)
		swapped[j] = at(n - i - 1)
	}
	return out, nil
}

// --- Continuous distributions ---

const (
	twoPi         = 2 * math.Pi
	log4          = 1.3862943611198906
	sgMagicConst  = 2.504077396776274
	nvMagicConst  = 1.7155277699214135
	gammaMinU1    = 1e-7
	gammaMaxU1    = 0.9999999
	vonMisesFloor = 1e-6
)

// floats binds params and converts every argument to float64.
func floats(a *Args, params ...param) ([]float64, error) {
	vals, err := a.bind(params...)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(vals))
	for i, v := range vals {
		if out[i], err = floatArg(a.fn, v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func randRandom(m *Machine, a *Args) (Value, error) {
	if _, err := a.bind(); err != nil {
		return nil, err
	}
	return m.rng.Float64(), nil
}

func randUniform(m *Machine, a *Args) (Value, error) {
	fs, err := floats(a, req("a"), req("b"))
	if err != nil {
		return nil, err
	}
	return fs[0] + (fs[1]-fs[0])*m.rng.Float64(), nil
}

func randTriangular(m *Machine, a *Args) (Value, error) {
	vals, err := a.bind(opt("low", 0.0), opt("high", 1.0), opt("mode", nil))
	if err != nil {
		return nil, err
	}
	low, err := floatArg(a.fn, vals[0])
	if err != nil {
		return nil, err
	}
	high, err := floatArg(a.fn, vals[1])
	if err != nil {
		return nil, err
	}
	u := m.rng.Float64()
	c := 0.5
	if vals[2] != nil {
		mode, err := floatArg(a.fn, vals[2])
		if err != nil {
			return nil, err
		}
		if high == low {
			return low, nil
		}
		c = (mode - low) / (high - low)
	}
	if u > c {
		u, c = 1-u, 1-c
		low, high = high, low
	}
	return low + (high-low)*math.Sqrt(u*c), nil
}

func randBeta(m *Machine, a *Args) (Value, error) {
	fs, err := floats(a, req("alpha"), req("beta"))
	if err != nil {
		return nil, err
	}
	y, err := gammaDraw(m, fs[0], 1)
	if err != nil {
		return nil, err
	}
	if y == 0 {
		return 0.0, nil
	}
	z, err := gammaDraw(m, fs[1], 1)
	if err != nil {
		return nil, err
	}
	return y / (y + z), nil
}

func randExpo(m *Machine, a *Args) (Value, error) {
	fs, err := floats(a, opt("lambd", 1.0))
	if err != nil {
		return nil, err
	}
	if fs[0] == 0 {
		return nil, zeroDivision("float division by zero")
	}
	return -math.Log(1-m.rng.Float64()) / fs[0], nil
}

func randGamma(m *Machine, a *Args) (Value, error) {
	fs, err := floats(a, req("alpha"), req("beta"))
	if err != nil {
		return nil, err
	}
	g, err := gammaDraw(m, fs[0], fs[1])
	if err != nil {
		return nil, err
	}
	return g, nil
}

// gammaDraw uses Cheng's algorithm for alpha > 1 and Ahrens-Dieter GS for
// alpha < 1.
func gammaDraw(m *Machine, alpha, beta float64) (float64, error) {
	if alpha <= 0 || beta <= 0 {
		return 0, valueErrorf("gammavariate: alpha and beta must be > 0.0")
	}
	r := m.rng
	switch {
	case alpha > 1:
		ainv := math.Sqrt(2*alpha - 1)
		bbb := alpha - log4
		ccc := alpha + ainv
		for {
			if err := m.Tick(); err != nil {
				return 0, err
			}
			u1 := r.Float64()
			if !(gammaMinU1 < u1 && u1 < gammaMaxU1) {
				continue
			}
			u2 := 1 - r.Float64()
			v := math.Log(u1/(1-u1)) / ainv
			x := alpha * math.Exp(v)
			z := u1 * u1 * u2
			rr := bbb + ccc*v - x
			if rr+sgMagicConst-4.5*z >= 0 || rr >= math.Log(z) {
				return x * beta, nil
			}
		}
	case alpha == 1:
		return -math.Log(1-r.Float64()) * beta, nil
	default:
		for {
			if err := m.Tick(); err != nil {
				return 0, err
			}
			u := r.Float64()
			b := (math.E + alpha) / math.E
			p := b * u
			var x float64
			if p <= 1 {
				x = math.Pow(p, 1/alpha)
			} else {
				x = -math.Log((b - p) / alpha)
			}
			u1 := r.Float64()
			if p > 1 {
				if u1 <= math.Pow(x, alpha-1) {
					return x * beta, nil
				}
			} else if u1 <= math.Exp(-x) {
				return x * beta, nil
			}
		}
	}
}

// randGauss is Box-Muller; the reseed discards any cached second variate.
func randGauss(m *Machine, a *Args) (Value, error) {
	fs, err := floats(a, opt("mu", 0.0), opt("sigma", 1.0))
	if err != nil {
		return nil, err
	}
	x2pi := m.rng.Float64() * twoPi
	g2rad := math.Sqrt(-2 * math.Log(1-m.rng.Float64()))
	return fs[0] + math.Cos(x2pi)*g2rad*fs[1], nil
}

// normalDraw is the Kinderman-Monahan ratio-of-uniforms method.
func normalDraw(m *Machine, mu, sigma float64) (float64, error) {
	for {
		if err := m.Tick(); err != nil {
			return 0, err
		}
		u1 := m.rng.Float64()
		u2 := 1 - m.rng.Float64()
		z := nvMagicConst * (u1 - 0.5) / u2
		if z*z/4 <= -math.Log(u2) {
			return mu + z*sigma, nil
		}
	}
}

func randNormal(m *Machine, a *Args) (Value, error) {
	fs, err := floats(a, opt("mu", 0.0), opt("sigma", 1.0))
	if err != nil {
		return nil, err
	}
	v, err := normalDraw(m, fs[0], fs[1])
	if err != nil {
		return nil, err
	}
	return v, nil
}

func randLognorm(m *Machine, a *Args) (Value, error) {
	fs, err := floats(a, req("mu"), req("sigma"))
	if err != nil {
		return nil, err
	}
	v, err := normalDraw(m, fs[0], fs[1])
	if err != nil {
		return nil, err
	}
	return checkResult(math.Exp(v), v)
}

func randVonMises(m *Machine, a *Args) (Value, error) {
	fs, err := floats(a, req("mu"), req("kappa"))
	if err != nil {
		return nil, err
	}
	mu, kappa := fs[0], fs[1]
	r := m.rng
	if kappa <= vonMisesFloor {
		return twoPi * r.Float64(), nil
	}
	s := 0.5 / kappa
	rr := s + math.Sqrt(1+s*s)
	var z float64
	for {
		if err := m.Tick(); err != nil {
			return nil, err
		}
		u1 := r.Float64()
		z = math.Cos(math.Pi * u1)
		d := z / (rr + z)
		u2 := r.Float64()
		if u2 < 1-d*d || u2 <= (1-d)*math.Exp(d) {
			break
		}
	}
	q := 1 / rr
	f := (q + z) / (1 + q*z)
	var theta float64
	if r.Float64() > 0.5 {
		_, theta = floatDivmod(mu+math.Acos(f), twoPi)
	} else {
		_, theta = floatDivmod(mu-math.Acos(f), twoPi)
	}
	return theta, nil
}

func randPareto(m *Machine, a *Args) (Value, error) {
	fs, err := floats(a, req("alpha"))
	if err != nil {
		return nil, err
	}
	if fs[0] == 0 {
		return nil, zeroDivision("float division by zero")
	}
	u := 1 - m.rng.Float64()
	return math.Pow(u, -1/fs[0]), nil
}

func randWeibull(m *Machine, a *Args) (Value, error) {
	fs, err := floats(a, req("alpha"), req("beta"))
	if err != nil {
		return nil, err
	}
	if fs[1] == 0 {
		return nil, zeroDivision("float division by zero")
	}
	u := 1 - m.rng.Float64()
	return fs[0] * math.Pow(-math.Log(u), 1/fs[1]), nil
}

package formula

import "math"

// waveBuiltins returns the stateless periodic signal generators.
func waveBuiltins() []*Builtin {
	return []*Builtin{
		NewBuiltin("sin_w", func(_ *Machine, a *Args) (Value, error) {
			fs, err := floats(a, req("t"), opt("freq", int64(1)), opt("ampl", int64(1)), opt("phase", int64(0)))
			if err != nil {
				return nil, err
			}
			t, freq, ampl, phase := fs[0], fs[1], fs[2], fs[3]
			return ampl * math.Sin(2*math.Pi*freq*t+phase), nil
		}),
		NewBuiltin("sqr_w", func(m *Machine, a *Args) (Value, error) {
			vals, err := a.bind(req("t"), opt("freq", int64(1)), opt("ampl", int64(1)))
			if err != nil {
				return nil, err
			}
			fs := make([]float64, 2)
			for i := range fs {
				if fs[i], err = floatArg(a.fn, vals[i]); err != nil {
					return nil, err
				}
			}
			if !isNumber(vals[2]) {
				return nil, unsupportedOperands("*", vals[2], int64(1))
			}
			// The amplitude keeps its type, so integer amplitudes give integer samples.
			return m.mul(vals[2], squareSign(fs[0], fs[1]))
		}),
		NewBuiltin("tri_w", func(_ *Machine, a *Args) (Value, error) {
			fs, err := floats(a, req("t"), opt("freq", int64(1)), opt("ampl", int64(1)))
			if err != nil {
				return nil, err
			}
			return triangleWave(fs[0], fs[1], fs[2])
		}),
		NewBuiltin("saw_w", func(_ *Machine, a *Args) (Value, error) {
			fs, err := floats(a, req("t"), opt("freq", int64(1)), opt("ampl", int64(1)))
			if err != nil {
				return nil, err
			}
			return sawWave(fs[0], fs[1], fs[2])
		}),
		NewBuiltin("tri", func(_ *Machine, a *Args) (Value, error) {
			fs, err := floats(a, req("t"), req("notespan"))
			if err != nil {
				return nil, err
			}
			if fs[1] == 0 {
				return nil, zeroDivision("float division by zero")
			}
			return triangleWave(fs[0], 1/fs[1], fs[1]/4)
		}),
	}
}

func squareSign(t, freq float64) int64 {
	if math.Sin(2*math.Pi*freq*t) >= 0 {
		return 1
	}
	return -1
}

// phase returns t modulo the period 1/freq with Python's sign convention.
func phase(t, freq float64) (m, period float64, err error) {
	if freq == 0 {
		return 0, 0, zeroDivision("float division by zero")
	}
	period = 1 / freq
	if period == 0 {
		return 0, 0, zeroDivision("float modulo")
	}
	_, m = floatDivmod(t, period)
	return m, period, nil
}

func triangleWave(t, freq, ampl float64) (Value, error) {
	m, p, err := phase(t, freq)
	if err != nil {
		return nil, err
	}
	if m < p/2 {
		return ampl * (4*m/p - 1), nil
	}
	return ampl * (3 - 4*m/p), nil
}

func sawWave(t, freq, ampl float64) (Value, error) {
	m, p, err := phase(t, freq)
	if err != nil {
		return nil, err
	}
	return ampl * (2*m/p - 1), nil
}

package formula

import (
	"errors"
	"math"
	"strings"
	"unicode/utf8"
)

// iterate calls fn for each element of an iterable value.
func (m *Machine) iterate(v Value, fn func(Value) error) error {
	step := func(e Value) error {
		if err := m.Tick(); err != nil {
			return err
		}
		return fn(e)
	}
	switch s := v.(type) {
	case string:
		for _, r := range s {
			if err := step(string(r)); err != nil {
				return err
			}
		}
	case List:
		for _, e := range s {
			if err := step(e); err != nil {
				return err
			}
		}
	case Tuple:
		for _, e := range s {
			if err := step(e); err != nil {
				return err
			}
		}
	case *Dict:
		for _, k := range s.keys {
			if err := step(k); err != nil {
				return err
			}
		}
	case *Set:
		for _, e := range s.items {
			if err := step(e); err != nil {
				return err
			}
		}
	case *Range:
		n := s.Len()
		for i := int64(0); i < n; i++ {
			if err := step(s.At(i)); err != nil {
				return err
			}
		}
	case *Iterator:
		for {
			e, ok, err := s.Next()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if err := step(e); err != nil {
				return err
			}
		}
	default:
		return typeErrorf("'%s' object is not iterable", TypeName(v))
	}
	return nil
}

// materialize collects an iterable into a slice. Lists and tuples are returned
// as-is; callers must copy before reordering.
func (m *Machine) materialize(v Value) ([]Value, error) {
	switch s := v.(type) {
	case List:
		return s, nil
	case Tuple:
		return s, nil
	case *Range:
		if err := m.checkLen(s.Len()); err != nil {
			return nil, err
		}
		out := make([]Value, 0, s.Len())
		for i := int64(0); i < s.Len(); i++ {
			if err := m.Tick(); err != nil {
				return nil, err
			}
			out = append(out, s.At(i))
		}
		return out, nil
	}
	var out []Value
	err := m.iterate(v, func(e Value) error {
		out = append(out, e)
		return m.checkLen(int64(len(out)))
	})
	return out, err
}

// iterator wraps any iterable in a single-pass *Iterator.
func (m *Machine) iterator(v Value) (*Iterator, error) {
	if it, ok := v.(*Iterator); ok {
		return it, nil
	}
	if r, ok := v.(*Range); ok {
		i, n := int64(0), r.Len()
		return &Iterator{kind: "range_iterator", next: func() (Value, bool, error) {
			if i >= n {
				return nil, false, nil
			}
			i++
			return r.At(i - 1), true, nil
		}}, nil
	}
	items, err := m.materialize(v)
	if err != nil {
		return nil, err
	}
	i := 0
	return &Iterator{kind: TypeName(v) + "_iterator", next: func() (Value, bool, error) {
		if i >= len(items) {
			return nil, false, nil
		}
		i++
		return items[i-1], true, nil
	}}, nil
}

func length(v Value) (int64, error) {
	switch s := v.(type) {
	case string:
		return int64(utf8.RuneCountInString(s)), nil
	case List:
		return int64(len(s)), nil
	case Tuple:
		return int64(len(s)), nil
	case *Dict:
		return int64(s.Len()), nil
	case *Set:
		return int64(len(s.items)), nil
	case *Range:
		return s.Len(), nil
	}
	return 0, typeErrorf("object of type '%s' has no len()", TypeName(v))
}

func (m *Machine) contains(container, item Value) (bool, error) {
	switch c := container.(type) {
	case string:
		s, ok := item.(string)
		if !ok {
			return false, typeErrorf("'in <string>' requires string as left operand, not %s", TypeName(item))
		}
		return strings.Contains(c, s), nil
	case *Dict:
		_, found, err := c.Get(item)
		return found, err
	case *Set:
		return c.Has(item)
	case *Range:
		var i int64
		switch v := item.(type) {
		case float64:
			if v != math.Trunc(v) || math.Abs(v) >= 1<<63 {
				return false, nil
			}
			i = int64(v)
		default:
			var ok bool
			if i, ok = asInt(item); !ok {
				return false, nil
			}
		}
		if c.Step > 0 && (i < c.Start || i >= c.Stop) || c.Step < 0 && (i > c.Start || i <= c.Stop) {
			return false, nil
		}
		return (i-c.Start)%c.Step == 0, nil
	case List, Tuple, *Iterator:
		found := false
		err := m.iterate(container, func(e Value) error {
			eq, err := m.equal(e, item)
			if err != nil {
				return err
			}
			if eq {
				found = true
				return errStop
			}
			return nil
		})
		if errors.Is(err, errStop) {
			err = nil
		}
		return found, err
	}
	return false, typeErrorf("argument of type '%s' is not iterable", TypeName(container))
}

// errStop ends an iteration early without reporting an error.
var errStop = errors.New("stop iteration")

func asIndex(v Value, what string) (int64, error) {
	if i, ok := asInt(v); ok {
		return i, nil
	}
	return 0, typeErrorf("%s indices must be integers or slices, not %s", what, TypeName(v))
}

func normIndex(i, n int64, what string) (int64, error) {
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return 0, indexErrorf("%s index out of range", what)
	}
	return i, nil
}

func (m *Machine) getItem(x, idx Value) (Value, error) {
	if sv, ok := idx.(*SliceValue); ok {
		return m.slice(x, sv)
	}
	switch s := x.(type) {
	case List:
		i, err := asIndex(idx, "list")
		if err != nil {
			return nil, err
		}
		if i, err = normIndex(i, int64(len(s)), "list"); err != nil {
			return nil, err
		}
		return s[i], nil
	case Tuple:
		i, err := asIndex(idx, "tuple")
		if err != nil {
			return nil, err
		}
		if i, err = normIndex(i, int64(len(s)), "tuple"); err != nil {
			return nil, err
		}
		return s[i], nil
	case string:
		i, err := asIndex(idx, "string")
		if err != nil {
			return nil, err
		}
		runes := []rune(s)
		if i, err = normIndex(i, int64(len(runes)), "string"); err != nil {
			return nil, err
		}
		return string(runes[i]), nil
	case *Range:
		i, err := asIndex(idx, "range")
		if err != nil {
			return nil, err
		}
		if i, err = normIndex(i, s.Len(), "range object"); err != nil {
			return nil, err
		}
		return s.At(i), nil
	case *Dict:
		v, found, err := s.Get(idx)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, runtimeErr(kindKey, "key %s not found", Repr(idx))
		}
		return v, nil
	}
	return nil, typeErrorf("'%s' object is not subscriptable", TypeName(x))
}

// sliceIndices resolves a slice against a sequence of length n, clamping the
// bounds the way Python does.
func sliceIndices(sv *SliceValue, n int64) (start, stop, step, count int64, err error) {
	step = 1
	if sv.Step != nil {
		s, ok := asInt(sv.Step)
		if !ok {
			return 0, 0, 0, 0, typeErrorf("slice indices must be integers or None")
		}
		if s == 0 {
			return 0, 0, 0, 0, valueErrorf("slice step cannot be zero")
		}
		if s < -math.MaxInt64 {
			s = -math.MaxInt64
		}
		step = s
	}

	bound := func(v Value, defPos, defNeg int64) (int64, error) {
		if v == nil {
			if step > 0 {
				return defPos, nil
			}
			return defNeg, nil
		}
		i, ok := asInt(v)
		if !ok {
			return 0, typeErrorf("slice indices must be integers or None")
		}
		if i < 0 {
			i += n
			if i < 0 {
				if step < 0 {
					return -1, nil
				}
				return 0, nil
			}
		} else if i >= n {
			if step < 0 {
				return n - 1, nil
			}
			return n, nil
		}
		return i, nil
	}

	if start, err = bound(sv.Lo, 0, n-1); err != nil {
		return
	}
	if stop, err = bound(sv.Hi, n, -1); err != nil {
		return
	}
	switch {
	case step > 0 && start < stop:
		count = (stop-start-1)/step + 1
	case step < 0 && stop < start:
		count = (start-stop-1)/(-step) + 1
	}
	return start, stop, step, count, nil
}

func (m *Machine) slice(x Value, sv *SliceValue) (Value, error) {
	pick := func(items []Value) ([]Value, error) {
		start, _, step, count, err := sliceIndices(sv, int64(len(items)))
		if err != nil {
			return nil, err
		}
		out := make([]Value, count)
		for i := int64(0); i < count; i++ {
			out[i] = items[start+i*step]
		}
		return out, nil
	}
	switch s := x.(type) {
	case List:
		out, err := pick(s)
		return List(out), err
	case Tuple:
		out, err := pick(s)
		return Tuple(out), err
	case string:
		runes := []rune(s)
		start, _, step, count, err := sliceIndices(sv, int64(len(runes)))
		if err != nil {
			return nil, err
		}
		out := make([]rune, count)
		for i := int64(0); i < count; i++ {
			out[i] = runes[start+i*step]
		}
		return string(out), nil
	case *Range:
		start, stop, step, _, err := sliceIndices(sv, s.Len())
		if err != nil {
			return nil, err
		}
		return &Range{Start: s.Start + start*s.Step, Stop: s.Start + stop*s.Step, Step: step * s.Step}, nil
	}
	return nil, typeErrorf("'%s' object is not subscriptable", TypeName(x))
}

package formula

import (
	"math"
	"strconv"
	"strings"
)

// Value is a runtime value. The concrete types are:
//
//	nil        None
//	bool       True / False
//	int64      int
//	float64    float
//	string     str
//	List       list
//	Tuple      tuple
//	*Dict      dict
//	*Set       set
//	*Range     range
//	*Iterator  map/filter/reversed iterators
//	*SliceValue  slice objects
//	Callable   functions
type Value any

// List is an immutable ordered sequence; formulas cannot mutate values.
type List []Value

// Tuple is an immutable ordered sequence created by tuple syntax or builtins.
type Tuple []Value

// Dict is an insertion-ordered mapping.
type Dict struct {
	keys  []Value
	vals  []Value
	index map[string]int
}

// NewDict creates an empty dict.
func NewDict() *Dict {
	return &Dict{index: make(map[string]int)}
}

// Set stores a key, replacing any existing entry with an equal key.
func (d *Dict) Set(k, v Value) error {
	hk, err := hashKey(k)
	if err != nil {
		return err
	}
	if i, ok := d.index[hk]; ok {
		d.vals[i] = v
		return nil
	}
	d.index[hk] = len(d.keys)
	d.keys = append(d.keys, k)
	d.vals = append(d.vals, v)
	return nil
}

// Get looks up a key.
func (d *Dict) Get(k Value) (Value, bool, error) {
	hk, err := hashKey(k)
	if err != nil {
		return nil, false, err
	}
	i, ok := d.index[hk]
	if !ok {
		return nil, false, nil
	}
	return d.vals[i], true, nil
}

// Keys returns the keys in insertion order.
func (d *Dict) Keys() []Value { return d.keys }

// Len returns the number of entries.
func (d *Dict) Len() int { return len(d.keys) }

// Set is an insertion-ordered set of hashable values.
type Set struct {
	items []Value
	index map[string]struct{}
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{index: make(map[string]struct{})}
}

// Add inserts v unless an equal element exists.
func (s *Set) Add(v Value) error {
	hk, err := hashKey(v)
	if err != nil {
		return err
	}
	if _, ok := s.index[hk]; ok {
		return nil
	}
	s.index[hk] = struct{}{}
	s.items = append(s.items, v)
	return nil
}

// Has reports membership.
func (s *Set) Has(v Value) (bool, error) {
	hk, err := hashKey(v)
	if err != nil {
		return false, err
	}
	_, ok := s.index[hk]
	return ok, nil
}

// Items returns the elements in insertion order.
func (s *Set) Items() []Value { return s.items }

// Range is a lazy arithmetic progression.
type Range struct {
	Start, Stop, Step int64
}

// Len returns the number of elements in the range.
func (r *Range) Len() int64 {
	switch {
	case r.Step > 0 && r.Start < r.Stop:
		return (r.Stop-r.Start-1)/r.Step + 1
	case r.Step < 0 && r.Start > r.Stop:
		return (r.Start-r.Stop-1)/(-r.Step) + 1
	default:
		return 0
	}
}

// At returns the i-th element; i must be in [0, Len()).
func (r *Range) At(i int64) int64 { return r.Start + i*r.Step }

// Iterator is a stateful, single-pass sequence. Its producer is called until
// it reports exhaustion.
type Iterator struct {
	kind string
	next func() (Value, bool, error)
	done bool
}

// Next advances the iterator.
func (it *Iterator) Next() (Value, bool, error) {
	if it.done {
		return nil, false, nil
	}
	v, ok, err := it.next()
	if err != nil || !ok {
		it.done = true
	}
	return v, ok, err
}

// SliceValue is a slice object, as produced by slice(...).
type SliceValue struct {
	Lo, Hi, Step Value
}

// TypeName returns the Python type name of v, used in error messages.
func TypeName(v Value) string {
	switch v.(type) {
	case nil:
		return "NoneType"
	case bool:
		return "bool"
	case int64:
		return "int"
	case float64:
		return "float"
	case string:
		return "str"
	case List:
		return "list"
	case Tuple:
		return "tuple"
	case *Dict:
		return "dict"
	case *Set:
		return "set"
	case *Range:
		return "range"
	case *Iterator:
		return v.(*Iterator).kind
	case *SliceValue:
		return "slice"
	case Callable:
		return "builtin_function_or_method"
	default:
		return "object"
	}
}

// Truthy reports the truth value of v.
func Truthy(v Value) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case int64:
		return v != 0
	case float64:
		return v != 0
	case string:
		return v != ""
	case List:
		return len(v) > 0
	case Tuple:
		return len(v) > 0
	case *Dict:
		return v.Len() > 0
	case *Set:
		return len(v.items) > 0
	case *Range:
		return v.Len() > 0
	default:
		return true
	}
}

// Repr renders v the way Python's repr would.
func Repr(v Value) string {
	switch v := v.(type) {
	case nil:
		return "None"
	case bool:
		if v {
			return "True"
		}
		return "False"
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return formatFloat(v, "inf", "nan")
	case string:
		return pyQuote(v)
	case List:
		return "[" + joinRepr(v) + "]"
	case Tuple:
		if len(v) == 1 {
			return "(" + Repr(v[0]) + ",)"
		}
		return "(" + joinRepr(v) + ")"
	case *Dict:
		parts := make([]string, len(v.keys))
		for i := range v.keys {
			parts[i] = Repr(v.keys[i]) + ": " + Repr(v.vals[i])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case *Set:
		if len(v.items) == 0 {
			return "set()"
		}
		return "{" + joinRepr(v.items) + "}"
	case *Range:
		if v.Step == 1 {
			return "range(" + strconv.FormatInt(v.Start, 10) + ", " + strconv.FormatInt(v.Stop, 10) + ")"
		}
		return "range(" + strconv.FormatInt(v.Start, 10) + ", " + strconv.FormatInt(v.Stop, 10) + ", " + strconv.FormatInt(v.Step, 10) + ")"
	case *SliceValue:
		return "slice(" + Repr(v.Lo) + ", " + Repr(v.Hi) + ", " + Repr(v.Step) + ")"
	case *Iterator:
		return "<" + v.kind + " object>"
	case Callable:
		return "<built-in function " + v.Name() + ">"
	default:
		return "<object>"
	}
}

// Str renders v the way Python's str would.
func Str(v Value) string {
	if s, ok := v.(string); ok {
		return s
	}
	return Repr(v)
}

func joinRepr(vs []Value) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = Repr(v)
	}
	return strings.Join(parts, ", ")
}

// formatFloat formats f like Python's float repr, with the given spellings
// for infinity and NaN.
func formatFloat(f float64, inf, nan string) string {
	switch {
	case math.IsNaN(f):
		return nan
	case math.IsInf(f, 1):
		return inf
	case math.IsInf(f, -1):
		return "-" + inf
	}
	abs := math.Abs(f)
	var s string
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		s = strconv.FormatFloat(f, 'e', -1, 64)
	} else {
		s = strconv.FormatFloat(f, 'f', -1, 64)
	}
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

func pyQuote(s string) string {
	quote := byte('\'')
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		quote = '"'
	}
	var b strings.Builder
	b.WriteByte(quote)
	for _, r := range s {
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == rune(quote):
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\t':
			b.WriteString(`\t`)
		case r == '\r':
			b.WriteString(`\r`)
		case r < 0x20 || r == 0x7f:
			b.WriteString(`\x`)
			b.WriteString(strconv.FormatInt(int64(r)|0x100, 16)[1:])
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte(quote)
	return b.String()
}

// hashKey returns a canonical key for hashable values so that values equal
// under Python semantics (1, 1.0, True) share a key.
func hashKey(v Value) (string, error) {
	switch v := v.(type) {
	case nil:
		return "n", nil
	case bool:
		if v {
			return "i1", nil
		}
		return "i0", nil
	case int64:
		return "i" + strconv.FormatInt(v, 10), nil
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1<<63 {
			return "i" + strconv.FormatInt(int64(v), 10), nil
		}
		return "f" + strconv.FormatFloat(v, 'g', -1, 64), nil
	case string:
		return "s" + v, nil
	case Tuple:
		var b strings.Builder
		b.WriteString("t(")
		for _, e := range v {
			k, err := hashKey(e)
			if err != nil {
				return "", err
			}
			b.WriteString(strconv.Itoa(len(k)))
			b.WriteByte(':')
			b.WriteString(k)
		}
		b.WriteByte(')')
		return b.String(), nil
	case *Range:
		return "r" + Repr(v), nil
	case Callable:
		return "c" + v.Name(), nil
	default:
		return "", typeErrorf("unhashable type: '%s'", TypeName(v))
	}
}

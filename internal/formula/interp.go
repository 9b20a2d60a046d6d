package formula

import (
	"context"
)

// DefaultMaxSequence bounds the length of any sequence a formula materializes.
const DefaultMaxSequence = 1 << 22

// Limits bounds the resources a single evaluation may use.
type Limits struct {
	MaxSequence int
	// MaxOutput bounds the encoded result in bytes.
	MaxOutput int
}

func (l Limits) withDefaults() Limits {
	if l.MaxSequence <= 0 {
		l.MaxSequence = DefaultMaxSequence
	}
	if l.MaxOutput <= 0 {
		l.MaxOutput = DefaultMaxOutput
	}
	return l
}

// Machine carries the state of one evaluation: its deadline, the shared random
// source and resource limits. A Machine is used by a single goroutine.
type Machine struct {
	ctx    context.Context
	steps  uint64
	rng    *Random
	limits Limits
}

func newMachine(ctx context.Context, rng *Random, limits Limits) *Machine {
	return &Machine{ctx: ctx, rng: rng, limits: limits.withDefaults()}
}

// Context returns the evaluation context.
func (m *Machine) Context() context.Context { return m.ctx }

// Tick counts one unit of work and periodically checks for cancellation.
func (m *Machine) Tick() error {
	m.steps++
	if m.steps&0xff == 0 {
		if err := m.ctx.Err(); err != nil {
			return interrupted(err)
		}
	}
	return nil
}

// Apply calls fn with positional arguments.
func (m *Machine) Apply(fn Value, args ...Value) (Value, error) {
	c, ok := fn.(Callable)
	if !ok {
		return nil, typeErrorf("'%s' object is not callable", TypeName(fn))
	}
	if err := m.Tick(); err != nil {
		return nil, err
	}
	return c.Call(m, args, nil)
}

// checkLen rejects sequences longer than the configured limit.
func (m *Machine) checkLen(n int64) error {
	if n < 0 || n > int64(m.limits.MaxSequence) {
		return runtimeErr(kindResources, "sequence of length %d exceeds the limit of %d", n, m.limits.MaxSequence)
	}
	return nil
}

// Eval evaluates tree against ns.
func (m *Machine) Eval(tree Node, ns *Namespace) (Value, error) {
	return m.eval(tree, ns)
}

func (m *Machine) eval(n Node, ns *Namespace) (Value, error) {
	if err := m.Tick(); err != nil {
		return nil, err
	}
	switch n := n.(type) {
	case *Literal:
		return n.Value, nil

	case *Name:
		v, ok := ns.Lookup(n.Ident)
		if !ok {
			return nil, unboundName(n)
		}
		return v, nil

	case *Unary:
		x, err := m.eval(n.X, ns)
		if err != nil {
			return nil, err
		}
		if n.Op == "not" {
			return !Truthy(x), nil
		}
		return unaryOp(n.Op, x)

	case *Binary:
		x, err := m.eval(n.X, ns)
		if err != nil {
			return nil, err
		}
		y, err := m.eval(n.Y, ns)
		if err != nil {
			return nil, err
		}
		return m.binaryOp(n.Op, x, y)

	case *BoolOp:
		var v Value
		for _, operand := range n.Values {
			var err error
			if v, err = m.eval(operand, ns); err != nil {
				return nil, err
			}
			if Truthy(v) == (n.Op == "or") {
				return v, nil
			}
		}
		return v, nil

	case *Compare:
		left, err := m.eval(n.First, ns)
		if err != nil {
			return nil, err
		}
		for i, op := range n.Ops {
			right, err := m.eval(n.Rest[i], ns)
			if err != nil {
				return nil, err
			}
			ok, err := m.compare(op, left, right)
			if err != nil {
				return nil, err
			}
			if !ok {
				return false, nil
			}
			left = right
		}
		return true, nil

	case *IfExp:
		cond, err := m.eval(n.Cond, ns)
		if err != nil {
			return nil, err
		}
		if Truthy(cond) {
			return m.eval(n.Body, ns)
		}
		return m.eval(n.Else, ns)

	case *Call:
		return m.evalCall(n, ns)

	case *Index:
		x, err := m.eval(n.X, ns)
		if err != nil {
			return nil, err
		}
		if s, ok := n.Index.(*SliceExpr); ok {
			sv, err := m.evalSlice(s, ns)
			if err != nil {
				return nil, err
			}
			return m.getItem(x, sv)
		}
		idx, err := m.eval(n.Index, ns)
		if err != nil {
			return nil, err
		}
		return m.getItem(x, idx)

	case *ListLit:
		elts, err := m.evalAll(n.Elts, ns)
		return List(elts), err

	case *TupleLit:
		elts, err := m.evalAll(n.Elts, ns)
		return Tuple(elts), err

	case *SetLit:
		elts, err := m.evalAll(n.Elts, ns)
		if err != nil {
			return nil, err
		}
		s := NewSet()
		for _, e := range elts {
			if err := s.Add(e); err != nil {
				return nil, err
			}
		}
		return s, nil

	case *DictLit:
		d := NewDict()
		for i := range n.Keys {
			k, err := m.eval(n.Keys[i], ns)
			if err != nil {
				return nil, err
			}
			v, err := m.eval(n.Values[i], ns)
			if err != nil {
				return nil, err
			}
			if err := d.Set(k, v); err != nil {
				return nil, err
			}
		}
		return d, nil

	case *SliceExpr:
		return m.evalSlice(n, ns)
	}
	return nil, typeErrorf("cannot evaluate %s node", n.Kind())
}

func (m *Machine) evalAll(nodes []Node, ns *Namespace) ([]Value, error) {
	out := make([]Value, len(nodes))
	for i, e := range nodes {
		v, err := m.eval(e, ns)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *Machine) evalCall(n *Call, ns *Namespace) (Value, error) {
	fn, err := m.eval(n.Func, ns)
	if err != nil {
		return nil, err
	}
	args, err := m.evalAll(n.Args, ns)
	if err != nil {
		return nil, err
	}
	var kwargs []KeywordArg
	for _, kw := range n.Keywords {
		v, err := m.eval(kw.Value, ns)
		if err != nil {
			return nil, err
		}
		kwargs = append(kwargs, KeywordArg{Name: kw.Name, Value: v})
	}
	c, ok := fn.(Callable)
	if !ok {
		return nil, typeErrorf("'%s' object is not callable", TypeName(fn))
	}
	return c.Call(m, args, kwargs)
}

func (m *Machine) evalSlice(s *SliceExpr, ns *Namespace) (*SliceValue, error) {
	sv := &SliceValue{}
	for _, part := range []struct {
		node Node
		dst  *Value
	}{{s.Lo, &sv.Lo}, {s.Hi, &sv.Hi}, {s.Step, &sv.Step}} {
		if part.node == nil {
			continue
		}
		v, err := m.eval(part.node, ns)
		if err != nil {
			return nil, err
		}
		*part.dst = v
	}
	return sv, nil
}

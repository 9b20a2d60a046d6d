package formula

import (
	"fmt"
	"strconv"
	"strings"
)

// Span is a half-open byte range [Start, End) into the formula source.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Node is a read-only expression tree node.
type Node interface {
	Kind() string
	Span() Span
}

// Name is an identifier reference.
type Name struct {
	Ident string
	Pos   Span
}

// Literal is a number, string, boolean or None constant.
type Literal struct {
	Value Value
	Pos   Span
}

// Unary is a prefix operator: -, +, ~ or not.
type Unary struct {
	Op  string
	X   Node
	Pos Span
}

// Binary is an arithmetic or bitwise operator.
type Binary struct {
	Op   string
	X, Y Node
	Pos  Span
}

// BoolOp is a short-circuit chain of `and` or `or`.
type BoolOp struct {
	Op     string
	Values []Node
	Pos    Span
}

// Compare is a chained comparison: First Ops[0] Rest[0] Ops[1] Rest[1] ...
type Compare struct {
	First Node
	Ops   []string
	Rest  []Node
	Pos   Span
}

// IfExp is `Body if Cond else Else`.
type IfExp struct {
	Body, Cond, Else Node
	Pos              Span
}

// Keyword is a `name=value` call argument. The label is not a name reference.
type Keyword struct {
	Name     string
	NameSpan Span
	Value    Node
}

// Call is a function application.
type Call struct {
	Func     Node
	Args     []Node
	Keywords []Keyword
	Pos      Span
}

// Index is a subscript `X[Index]`; Index may be a *SliceExpr.
type Index struct {
	X     Node
	Index Node
	Pos   Span
}

// SliceExpr is `Lo:Hi:Step` inside a subscript; any part may be nil.
type SliceExpr struct {
	Lo, Hi, Step Node
	Pos          Span
}

// ListLit is `[a, b, ...]`.
type ListLit struct {
	Elts []Node
	Pos  Span
}

// TupleLit is `(a, b, ...)`.
type TupleLit struct {
	Elts []Node
	Pos  Span
}

// SetLit is `{a, b, ...}`.
type SetLit struct {
	Elts []Node
	Pos  Span
}

// DictLit is `{k: v, ...}`.
type DictLit struct {
	Keys, Values []Node
	Pos          Span
}

func (n *Name) Kind() string      { return "Name" }
func (n *Literal) Kind() string   { return "Literal" }
func (n *Unary) Kind() string     { return "Unary" }
func (n *Binary) Kind() string    { return "Binary" }
func (n *BoolOp) Kind() string    { return "BoolOp" }
func (n *Compare) Kind() string   { return "Compare" }
func (n *IfExp) Kind() string     { return "IfExp" }
func (n *Call) Kind() string      { return "Call" }
func (n *Index) Kind() string     { return "Index" }
func (n *SliceExpr) Kind() string { return "Slice" }
func (n *ListLit) Kind() string   { return "List" }
func (n *TupleLit) Kind() string  { return "Tuple" }
func (n *SetLit) Kind() string    { return "Set" }
func (n *DictLit) Kind() string   { return "Dict" }

func (n *Name) Span() Span      { return n.Pos }
func (n *Literal) Span() Span   { return n.Pos }
func (n *Unary) Span() Span     { return n.Pos }
func (n *Binary) Span() Span    { return n.Pos }
func (n *BoolOp) Span() Span    { return n.Pos }
func (n *Compare) Span() Span   { return n.Pos }
func (n *IfExp) Span() Span     { return n.Pos }
func (n *Call) Span() Span      { return n.Pos }
func (n *Index) Span() Span     { return n.Pos }
func (n *SliceExpr) Span() Span { return n.Pos }
func (n *ListLit) Span() Span   { return n.Pos }
func (n *TupleLit) Span() Span  { return n.Pos }
func (n *SetLit) Span() Span    { return n.Pos }
func (n *DictLit) Span() Span   { return n.Pos }

// Dump renders a tree as a span-free S-expression. Two trees are structurally
// equal exactly when their dumps are equal.
func Dump(n Node) string {
	var b strings.Builder
	dump(&b, n)
	return b.String()
}

func dump(b *strings.Builder, n Node) {
	if n == nil {
		b.WriteString("_")
		return
	}
	switch n := n.(type) {
	case *Name:
		b.WriteString(n.Ident)
	case *Literal:
		b.WriteString(literalRepr(n.Value))
	case *Unary:
		fmt.Fprintf(b, "(%s ", n.Op)
		dump(b, n.X)
		b.WriteString(")")
	case *Binary:
		fmt.Fprintf(b, "(%s ", n.Op)
		dump(b, n.X)
		b.WriteString(" ")
		dump(b, n.Y)
		b.WriteString(")")
	case *BoolOp:
		b.WriteString("(" + n.Op)
		for _, v := range n.Values {
			b.WriteString(" ")
			dump(b, v)
		}
		b.WriteString(")")
	case *Compare:
		b.WriteString("(cmp ")
		dump(b, n.First)
		for i, op := range n.Ops {
			fmt.Fprintf(b, " %s ", op)
			dump(b, n.Rest[i])
		}
		b.WriteString(")")
	case *IfExp:
		b.WriteString("(if ")
		dump(b, n.Cond)
		b.WriteString(" ")
		dump(b, n.Body)
		b.WriteString(" ")
		dump(b, n.Else)
		b.WriteString(")")
	case *Call:
		b.WriteString("(call ")
		dump(b, n.Func)
		for _, a := range n.Args {
			b.WriteString(" ")
			dump(b, a)
		}
		for _, kw := range n.Keywords {
			fmt.Fprintf(b, " %s=", kw.Name)
			dump(b, kw.Value)
		}
		b.WriteString(")")
	case *Index:
		b.WriteString("(index ")
		dump(b, n.X)
		b.WriteString(" ")
		dump(b, n.Index)
		b.WriteString(")")
	case *SliceExpr:
		b.WriteString("(slice ")
		dump(b, n.Lo)
		b.WriteString(" ")
		dump(b, n.Hi)
		b.WriteString(" ")
		dump(b, n.Step)
		b.WriteString(")")
	case *ListLit:
		dumpSeq(b, "list", n.Elts)
	case *TupleLit:
		dumpSeq(b, "tuple", n.Elts)
	case *SetLit:
		dumpSeq(b, "set", n.Elts)
	case *DictLit:
		b.WriteString("(dict")
		for i := range n.Keys {
			b.WriteString(" ")
			dump(b, n.Keys[i])
			b.WriteString(":")
			dump(b, n.Values[i])
		}
		b.WriteString(")")
	default:
		fmt.Fprintf(b, "<%T>", n)
	}
}

func dumpSeq(b *strings.Builder, head string, elts []Node) {
	b.WriteString("(" + head)
	for _, e := range elts {
		b.WriteString(" ")
		dump(b, e)
	}
	b.WriteString(")")
}

func literalRepr(v Value) string {
	switch v := v.(type) {
	case string:
		return strconv.Quote(v)
	default:
		return Repr(v)
	}
}

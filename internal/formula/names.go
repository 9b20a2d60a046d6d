package formula

// NameRef is one occurrence of an identifier in a formula.
type NameRef struct {
	Name string `json:"name"`
	Span Span   `json:"span"`
}

// CollectNames returns every identifier reference in tree, one per occurrence,
// in left-to-right source order. Keyword argument labels are not references.
func CollectNames(tree Node) []NameRef {
	var refs []NameRef
	walkNames(tree, &refs)
	return refs
}

func walkNames(n Node, refs *[]NameRef) {
	switch n := n.(type) {
	case nil:
	case *Name:
		*refs = append(*refs, NameRef{Name: n.Ident, Span: n.Pos})
	case *Literal:
	case *Unary:
		walkNames(n.X, refs)
	case *Binary:
		walkNames(n.X, refs)
		walkNames(n.Y, refs)
	case *BoolOp:
		walkList(n.Values, refs)
	case *Compare:
		walkNames(n.First, refs)
		walkList(n.Rest, refs)
	case *IfExp:
		// `body if cond else other` reads body first.
		walkNames(n.Body, refs)
		walkNames(n.Cond, refs)
		walkNames(n.Else, refs)
	case *Call:
		walkNames(n.Func, refs)
		walkList(n.Args, refs)
		for _, kw := range n.Keywords {
			walkNames(kw.Value, refs)
		}
	case *Index:
		walkNames(n.X, refs)
		walkNames(n.Index, refs)
	case *SliceExpr:
		walkNames(n.Lo, refs)
		walkNames(n.Hi, refs)
		walkNames(n.Step, refs)
	case *ListLit:
		walkList(n.Elts, refs)
	case *TupleLit:
		walkList(n.Elts, refs)
	case *SetLit:
		walkList(n.Elts, refs)
	case *DictLit:
		for i := range n.Keys {
			walkNames(n.Keys[i], refs)
			walkNames(n.Values[i], refs)
		}
	}
}

func walkList(nodes []Node, refs *[]NameRef) {
	for _, n := range nodes {
		walkNames(n, refs)
	}
}

// EncodeNames renders names as a JSON array of strings.
func EncodeNames(names []string) ([]byte, error) {
	list := make(List, len(names))
	for i, n := range names {
		list[i] = n
	}
	return Encode(list)
}

// Identifiers returns just the names of refs, in order.
func Identifiers(refs []NameRef) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.Name
	}
	return out
}

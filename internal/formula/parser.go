package formula

import (
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/alecthomas/participle/v2/lexer"
	"github.com/rendis/formula/pkg/schema"
)

// Parse parses formula text into an expression tree. It performs no name
// resolution and no evaluation; identical input always yields an identical tree.
func Parse(text string) (node Node, err error) {
	toks, err := tokenize(text)
	if err != nil {
		return nil, err
	}
	p := &parser{text: text, toks: toks, depth: make(map[Node]int)}

	defer func() {
		if r := recover(); r != nil {
			bail, ok := r.(bailout)
			if !ok {
				panic(r)
			}
			node, err = nil, bail.err
		}
	}()

	if p.peek().typ == lexer.EOF {
		p.failAt(p.peek(), "empty formula")
	}
	node = p.parseTestList()
	if tok := p.peek(); tok.typ != lexer.EOF {
		p.unexpected(tok)
	}
	return node, nil
}

// bailout carries a syntax error out of the recursive descent.
type bailout struct{ err *schema.FormulaError }

// Limits on recursion while parsing and on the height of the resulting tree,
// so that neither the parser nor the evaluator can exhaust the stack.
const (
	maxNesting = 400
	maxDepth   = 1000
)

type parser struct {
	text    string
	toks    []token
	pos     int
	prevEnd int
	nest    int
	depth   map[Node]int
}

// enter guards one level of parser recursion; callers defer p.leave().
func (p *parser) enter() {
	p.nest++
	if p.nest > maxNesting {
		p.failAt(p.peek(), "formula is too deeply nested")
	}
}

func (p *parser) leave() { p.nest-- }

// grow records the height of n from its children.
func (p *parser) grow(n Node, kids ...Node) Node {
	d := 0
	for _, k := range kids {
		if k != nil && p.depth[k] > d {
			d = p.depth[k]
		}
	}
	d++
	if d > maxDepth {
		p.failAt(p.peek(), "formula is too deeply nested")
	}
	p.depth[n] = d
	return n
}

// --- Token helpers ---

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) peekAt(n int) token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

func (p *parser) next() token {
	tok := p.toks[p.pos]
	if tok.typ != lexer.EOF {
		p.pos++
		p.prevEnd = tok.span.End
	}
	return tok
}

func (p *parser) acceptOp(op string) bool {
	if p.peek().isOp(op) {
		p.next()
		return true
	}
	return false
}

func (p *parser) acceptKeyword(kw string) bool {
	if p.peek().isKeyword(kw) {
		p.next()
		return true
	}
	return false
}

func (p *parser) expectOp(op string) token {
	tok := p.peek()
	if !tok.isOp(op) {
		if tok.typ == lexer.EOF {
			p.failAt(tok, "unexpected end of formula, expected '"+op+"'")
		}
		p.failAt(tok, "expected '"+op+"' but found '"+tok.value+"'")
	}
	return p.next()
}

func (p *parser) failAt(tok token, msg string) {
	panic(bailout{syntaxErrorAt(p.text, tok.span.Start, msg)})
}

func (p *parser) unexpected(tok token) {
	switch {
	case tok.typ == lexer.EOF:
		p.failAt(tok, "unexpected end of formula")
	case tok.isOp("."):
		p.failAt(tok, "attribute access is not supported")
	case tok.isOp("="):
		p.failAt(tok, "assignment is not supported")
	case tok.typ == tokIdent && keywords[tok.value]:
		p.failAt(tok, "unexpected keyword '"+tok.value+"'")
	default:
		p.failAt(tok, "invalid syntax near '"+tok.value+"'")
	}
}

// --- Expressions, lowest precedence first ---

// parseTestList parses a top-level expression; a bare comma list is a tuple.
func (p *parser) parseTestList() Node {
	first := p.parseTest()
	if !p.peek().isOp(",") {
		return first
	}
	elts := []Node{first}
	for p.acceptOp(",") {
		if p.peek().typ == lexer.EOF {
			break
		}
		elts = append(elts, p.parseTest())
	}
	return p.grow(&TupleLit{Elts: elts, Pos: Span{first.Span().Start, p.prevEnd}}, elts...)
}

func (p *parser) parseTest() Node {
	p.enter()
	defer p.leave()
	if tok := p.peek(); tok.isKeyword("lambda") {
		p.failAt(tok, "lambda expressions are not supported")
	}
	body := p.parseOr()
	if !p.acceptKeyword("if") {
		return body
	}
	cond := p.parseOr()
	if tok := p.peek(); !tok.isKeyword("else") {
		if tok.typ == lexer.EOF {
			p.failAt(tok, "expected 'else' after conditional expression")
		}
		p.failAt(tok, "expected 'else' but found '"+tok.value+"'")
	}
	p.next()
	orElse := p.parseTest()
	return p.grow(&IfExp{Body: body, Cond: cond, Else: orElse, Pos: Span{body.Span().Start, orElse.Span().End}}, body, cond, orElse)
}

func (p *parser) parseOr() Node {
	first := p.parseAnd()
	if !p.peek().isKeyword("or") {
		return first
	}
	values := []Node{first}
	for p.acceptKeyword("or") {
		values = append(values, p.parseAnd())
	}
	return p.grow(&BoolOp{Op: "or", Values: values, Pos: Span{first.Span().Start, p.prevEnd}}, values...)
}

func (p *parser) parseAnd() Node {
	first := p.parseNot()
	if !p.peek().isKeyword("and") {
		return first
	}
	values := []Node{first}
	for p.acceptKeyword("and") {
		values = append(values, p.parseNot())
	}
	return p.grow(&BoolOp{Op: "and", Values: values, Pos: Span{first.Span().Start, p.prevEnd}}, values...)
}

func (p *parser) parseNot() Node {
	if tok := p.peek(); tok.isKeyword("not") {
		p.next()
		p.enter()
		defer p.leave()
		x := p.parseNot()
		return p.grow(&Unary{Op: "not", X: x, Pos: Span{tok.span.Start, x.Span().End}}, x)
	}
	return p.parseComparison()
}

// compareOp consumes a comparison operator if one is next.
func (p *parser) compareOp() (string, bool) {
	tok := p.peek()
	switch {
	case tok.typ == tokOperator:
		switch tok.value {
		case "<", ">", "==", ">=", "<=", "!=":
			p.next()
			return tok.value, true
		}
	case tok.isKeyword("in"):
		p.next()
		return "in", true
	case tok.isKeyword("not") && p.peekAt(1).isKeyword("in"):
		p.next()
		p.next()
		return "not in", true
	case tok.isKeyword("is"):
		p.next()
		if p.acceptKeyword("not") {
			return "is not", true
		}
		return "is", true
	}
	return "", false
}

func (p *parser) parseComparison() Node {
	first := p.parseBinary(0)
	var ops []string
	var rest []Node
	for {
		op, ok := p.compareOp()
		if !ok {
			break
		}
		ops = append(ops, op)
		rest = append(rest, p.parseBinary(0))
	}
	if len(ops) == 0 {
		return first
	}
	return p.grow(&Compare{First: first, Ops: ops, Rest: rest, Pos: Span{first.Span().Start, p.prevEnd}}, append([]Node{first}, rest...)...)
}

// binaryLevels lists left-associative binary operators from loosest to tightest.
var binaryLevels = [][]string{
	{"|"},
	{"^"},
	{"&"},
	{"<<", ">>"},
	{"+", "-"},
	{"*", "/", "//", "%"},
}

func (p *parser) parseBinary(level int) Node {
	if level == len(binaryLevels) {
		return p.parseFactor()
	}
	x := p.parseBinary(level + 1)
	for {
		tok := p.peek()
		if tok.typ != tokOperator || !contains(binaryLevels[level], tok.value) {
			return x
		}
		p.next()
		y := p.parseBinary(level + 1)
		x = p.grow(&Binary{Op: tok.value, X: x, Y: y, Pos: Span{x.Span().Start, y.Span().End}}, x, y)
	}
}

func (p *parser) parseFactor() Node {
	tok := p.peek()
	if tok.isOp("-") || tok.isOp("+") || tok.isOp("~") {
		p.next()
		p.enter()
		defer p.leave()
		x := p.parseFactor()
		return p.grow(&Unary{Op: tok.value, X: x, Pos: Span{tok.span.Start, x.Span().End}}, x)
	}
	return p.parsePower()
}

func (p *parser) parsePower() Node {
	base := p.parsePrimary()
	if !p.acceptOp("**") {
		return base
	}
	exp := p.parseFactor()
	return p.grow(&Binary{Op: "**", X: base, Y: exp, Pos: Span{base.Span().Start, exp.Span().End}}, base, exp)
}

func (p *parser) parsePrimary() Node {
	x := p.parseAtom()
	for {
		tok := p.peek()
		switch {
		case tok.isOp("("):
			x = p.parseCall(x)
		case tok.isOp("["):
			p.next()
			idx := p.parseSubscript()
			p.expectOp("]")
			x = p.grow(&Index{X: x, Index: idx, Pos: Span{x.Span().Start, p.prevEnd}}, x, idx)
		case tok.isOp("."):
			p.failAt(tok, "attribute access is not supported")
		default:
			return x
		}
	}
}

func (p *parser) parseCall(fn Node) Node {
	p.expectOp("(")
	call := &Call{Func: fn}
	seen := map[string]bool{}
	for !p.peek().isOp(")") {
		tok := p.peek()
		if tok.typ == tokIdent && !keywords[tok.value] && p.peekAt(1).isOp("=") {
			p.next()
			p.next()
			if seen[tok.value] {
				p.failAt(tok, "keyword argument repeated: "+tok.value)
			}
			seen[tok.value] = true
			call.Keywords = append(call.Keywords, Keyword{Name: tok.value, NameSpan: tok.span, Value: p.parseTest()})
		} else {
			if tok.isOp("*") || tok.isOp("**") {
				p.failAt(tok, "argument unpacking is not supported")
			}
			if len(call.Keywords) > 0 {
				p.failAt(tok, "positional argument follows keyword argument")
			}
			call.Args = append(call.Args, p.parseTest())
		}
		if !p.acceptOp(",") {
			break
		}
	}
	p.expectOp(")")
	call.Pos = Span{fn.Span().Start, p.prevEnd}
	kids := append([]Node{fn}, call.Args...)
	for _, kw := range call.Keywords {
		kids = append(kids, kw.Value)
	}
	return p.grow(call, kids...)
}

func (p *parser) parseSubscript() Node {
	start := p.peek().span.Start
	var lo Node
	if !p.peek().isOp(":") {
		lo = p.parseTest()
		if !p.peek().isOp(":") {
			return lo
		}
	}
	p.expectOp(":")
	s := &SliceExpr{Lo: lo}
	if tok := p.peek(); !tok.isOp("]") && !tok.isOp(":") {
		s.Hi = p.parseTest()
	}
	if p.acceptOp(":") && !p.peek().isOp("]") {
		s.Step = p.parseTest()
	}
	s.Pos = Span{start, p.prevEnd}
	return p.grow(s, s.Lo, s.Hi, s.Step)
}

func (p *parser) parseAtom() Node {
	tok := p.peek()
	switch tok.typ {
	case tokInt:
		p.next()
		return &Literal{Value: p.parseInt(tok), Pos: tok.span}
	case tokFloat:
		p.next()
		f, err := strconv.ParseFloat(strings.ReplaceAll(tok.value, "_", ""), 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			p.failAt(tok, "invalid float literal")
		}
		return &Literal{Value: f, Pos: tok.span}
	case tokString:
		return p.parseStrings()
	case tokIdent:
		switch tok.value {
		case "True":
			p.next()
			return &Literal{Value: true, Pos: tok.span}
		case "False":
			p.next()
			return &Literal{Value: false, Pos: tok.span}
		case "None":
			p.next()
			return &Literal{Value: nil, Pos: tok.span}
		}
		if keywords[tok.value] {
			p.unexpected(tok)
		}
		p.next()
		return &Name{Ident: tok.value, Pos: tok.span}
	case tokOperator:
		switch tok.value {
		case "(":
			return p.parseParen()
		case "[":
			p.next()
			elts := p.parseElements("]")
			return p.grow(&ListLit{Elts: elts, Pos: Span{tok.span.Start, p.prevEnd}}, elts...)
		case "{":
			return p.parseBrace()
		}
	}
	p.unexpected(tok)
	return nil
}

func (p *parser) parseInt(tok token) Value {
	s := tok.value
	digits := strings.ReplaceAll(s, "_", "")
	if len(digits) > 1 && digits[0] == '0' && digits[1] >= '0' && digits[1] <= '9' && strings.Trim(digits, "0") != "" {
		p.failAt(tok, "leading zeros in decimal integer literals are not permitted")
	}
	if strings.HasPrefix(s, "_") || strings.HasSuffix(s, "_") || strings.Contains(s, "__") {
		p.failAt(tok, "invalid integer literal")
	}
	var (
		n   int64
		err error
	)
	switch {
	case len(digits) > 2 && (digits[1] == 'x' || digits[1] == 'X'):
		n, err = strconv.ParseInt(digits[2:], 16, 64)
	case len(digits) > 2 && (digits[1] == 'o' || digits[1] == 'O'):
		n, err = strconv.ParseInt(digits[2:], 8, 64)
	case len(digits) > 2 && (digits[1] == 'b' || digits[1] == 'B'):
		n, err = strconv.ParseInt(digits[2:], 2, 64)
	default:
		n, err = strconv.ParseInt(digits, 10, 64)
	}
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			p.failAt(tok, "integer literal too large")
		}
		p.failAt(tok, "invalid integer literal")
	}
	return n
}

// parseStrings parses one or more adjacent string literals, concatenated.
func (p *parser) parseStrings() Node {
	first := p.peek()
	var b strings.Builder
	for p.peek().typ == tokString {
		tok := p.next()
		s, err := unquote(tok.value)
		if err != nil {
			p.failAt(tok, err.Error())
		}
		b.WriteString(s)
	}
	return &Literal{Value: b.String(), Pos: Span{first.span.Start, p.prevEnd}}
}

func (p *parser) parseParen() Node {
	open := p.expectOp("(")
	if p.acceptOp(")") {
		return &TupleLit{Pos: Span{open.span.Start, p.prevEnd}}
	}
	first := p.parseTest()
	if p.acceptOp(")") {
		return first
	}
	p.expectOp(",")
	elts := append([]Node{first}, p.parseElements(")")...)
	return p.grow(&TupleLit{Elts: elts, Pos: Span{open.span.Start, p.prevEnd}}, elts...)
}

func (p *parser) parseBrace() Node {
	open := p.expectOp("{")
	if p.acceptOp("}") {
		return &DictLit{Pos: Span{open.span.Start, p.prevEnd}}
	}
	first := p.parseTest()
	if !p.acceptOp(":") {
		elts := []Node{first}
		if p.acceptOp(",") {
			elts = append(elts, p.parseElements("}")...)
		} else {
			p.expectOp("}")
		}
		return p.grow(&SetLit{Elts: elts, Pos: Span{open.span.Start, p.prevEnd}}, elts...)
	}
	d := &DictLit{Keys: []Node{first}, Values: []Node{p.parseTest()}}
	for p.acceptOp(",") {
		if p.peek().isOp("}") {
			break
		}
		d.Keys = append(d.Keys, p.parseTest())
		p.expectOp(":")
		d.Values = append(d.Values, p.parseTest())
	}
	p.expectOp("}")
	d.Pos = Span{open.span.Start, p.prevEnd}
	return p.grow(d, append(append([]Node{}, d.Keys...), d.Values...)...)
}

// parseElements parses a comma-separated list (trailing comma allowed) and
// consumes the closing token.
func (p *parser) parseElements(closer string) []Node {
	var elts []Node
	for !p.peek().isOp(closer) {
		elts = append(elts, p.parseTest())
		if !p.acceptOp(",") {
			break
		}
	}
	p.expectOp(closer)
	return elts
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// unquote decodes a quoted string literal using Python escape rules.
// Unrecognized escapes keep their backslash.
func unquote(lit string) (string, error) {
	body := lit[1 : len(lit)-1]
	if !strings.Contains(body, `\`) {
		return body, nil
	}
	var b strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' || i+1 == len(body) {
			b.WriteByte(c)
			continue
		}
		i++
		switch e := body[i]; e {
		case '\\', '\'', '"':
			b.WriteByte(e)
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'a':
			b.WriteByte('\a')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'v':
			b.WriteByte('\v')
		case 'x', 'u', 'U':
			size := map[byte]int{'x': 2, 'u': 4, 'U': 8}[e]
			if i+1+size > len(body) {
				return "", errors.New("truncated \\" + string(e) + " escape")
			}
			code, err := strconv.ParseUint(body[i+1:i+1+size], 16, 32)
			if err != nil || !utf8.ValidRune(rune(code)) {
				return "", errors.New("invalid \\" + string(e) + " escape")
			}
			b.WriteRune(rune(code))
			i += size
		case '0', '1', '2', '3', '4', '5', '6', '7':
			j := i
			for j < len(body) && j < i+3 && body[j] >= '0' && body[j] <= '7' {
				j++
			}
			code, _ := strconv.ParseUint(body[i:j], 8, 32)
			b.WriteRune(rune(code))
			i = j - 1
		default:
			b.WriteByte('\\')
			b.WriteByte(e)
		}
	}
	return b.String(), nil
}

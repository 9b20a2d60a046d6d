package formula

import (
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
	"github.com/rendis/formula/pkg/schema"
)

// formulaLexer tokenizes formula text. Rules are tried in order, so Float must
// precede Int and multi-character operators precede their prefixes.
var formulaLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Whitespace", Pattern: `[ \t\r\n]+`},
	{Name: "Float", Pattern: `(\d[\d_]*)?\.\d[\d_]*([eE][+-]?\d+)?|\d[\d_]*\.([eE][+-]?\d+)?|\d[\d_]*[eE][+-]?\d+`},
	{Name: "Int", Pattern: `0[xX][0-9a-fA-F_]+|0[oO][0-7_]+|0[bB][01_]+|\d[\d_]*`},
	{Name: "String", Pattern: `"(\\.|[^"\\\n])*"|'(\\.|[^'\\\n])*'`},
	{Name: "Ident", Pattern: `[\p{L}_][\p{L}\p{N}_]*`},
	{Name: "Operator", Pattern: `\*\*|//|<<|>>|<=|>=|==|!=|[-+*/%&|^~<>()\[\]{},:=.]`},
})

var (
	tokWhitespace = formulaLexer.Symbols()["Whitespace"]
	tokFloat      = formulaLexer.Symbols()["Float"]
	tokInt        = formulaLexer.Symbols()["Int"]
	tokString     = formulaLexer.Symbols()["String"]
	tokIdent      = formulaLexer.Symbols()["Ident"]
	tokOperator   = formulaLexer.Symbols()["Operator"]
)

// keywords are identifiers the grammar reserves. Reserved-but-unsupported words
// (lambda, for, ...) are rejected by the parser with a syntax error.
var keywords = map[string]bool{
	"and": true, "or": true, "not": true, "if": true, "else": true,
	"in": true, "is": true, "True": true, "False": true, "None": true,
	"lambda": true, "for": true, "async": true, "await": true, "yield": true,
}

// token is a lexed token with its absolute byte span in the source.
type token struct {
	typ   lexer.TokenType
	value string
	span  Span
	line  int
	col   int
}

func (t token) is(typ lexer.TokenType, value string) bool {
	return t.typ == typ && t.value == value
}

func (t token) isOp(value string) bool { return t.is(tokOperator, value) }

func (t token) isKeyword(value string) bool { return t.is(tokIdent, value) }

// tokenize lexes text into tokens, dropping whitespace. The final token is EOF.
func tokenize(text string) ([]token, error) {
	lex, err := formulaLexer.Lex("", strings.NewReader(text))
	if err != nil {
		return nil, lexError(text, err)
	}
	raw, err := lexer.ConsumeAll(lex)
	if err != nil {
		return nil, lexError(text, err)
	}

	out := make([]token, 0, len(raw))
	for _, t := range raw {
		if t.Type == tokWhitespace {
			continue
		}
		out = append(out, token{
			typ:   t.Type,
			value: t.Value,
			span:  Span{Start: t.Pos.Offset, End: t.Pos.Offset + len(t.Value)},
			line:  t.Pos.Line,
			col:   t.Pos.Column,
		})
	}
	return out, nil
}

// lexError converts a participle lexer error into a syntax error.
func lexError(text string, err error) *schema.FormulaError {
	type positioned interface{ Position() lexer.Position }
	if pe, ok := err.(positioned); ok {
		pos := pe.Position()
		return syntaxErrorAt(text, pos.Offset, "invalid character in formula")
	}
	return schema.NewErrorf(schema.ErrCodeSyntax, "invalid syntax: %s", err.Error()).WithCause(err)
}

// syntaxErrorAt builds a syntax error carrying offset, line and column details.
func syntaxErrorAt(text string, offset int, msg string) *schema.FormulaError {
	if offset < 0 {
		offset = 0
	}
	if offset > len(text) {
		offset = len(text)
	}
	line := 1 + strings.Count(text[:offset], "\n")
	col := offset - strings.LastIndex(text[:offset], "\n")
	return schema.NewErrorf(schema.ErrCodeSyntax, "%s (line %d, column %d)", msg, line, col).
		WithDetails(map[string]any{"offset": offset, "line": line, "column": col})
}

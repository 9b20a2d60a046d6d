package formula

import (
	"strings"
	"testing"

	"github.com/rendis/formula/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Structure(t *testing.T) {
	tests := []struct {
		formula string
		want    string
	}{
		{"1 + 2 * 3", "(+ 1 (* 2 3))"},
		{"(1 + 2) * 3", "(* (+ 1 2) 3)"},
		{"-x ** 2", "(- (** x 2))"},
		{"2 ** 3 ** 2", "(** 2 (** 3 2))"},
		{"a - b - c", "(- (- a b) c)"},
		{"a < b <= c", "(cmp a < b <= c)"},
		{"a not in b", "(cmp a not in b)"},
		{"a is not None", "(cmp a is not None)"},
		{"not a and b or c", "(or (and (not a) b) c)"},
		{"a if b else c", "(if b a c)"},
		{"f(x, k=1)", "(call f x k=1)"},
		{"x[1:2]", "(index x (slice 1 2 _))"},
		{"x[::-1]", "(index x (slice _ _ (- 1)))"},
		{"x[0][1]", "(index (index x 0) 1)"},
		{"(1,)", "(tuple 1)"},
		{"()", "(tuple)"},
		{"1, 2", "(tuple 1 2)"},
		{"[1, 2,]", "(list 1 2)"},
		{"{1, 2}", "(set 1 2)"},
		{"{}", "(dict)"},
		{"{'a': 1}", `(dict "a":1)`},
		{"'a' \"b\"", `"ab"`},
		{"0x1f + 0o17 + 0b11 + 1_000", "(+ (+ (+ 31 15) 3) 1000)"},
		{"1.5e3", "1500.0"},
		{"a | b ^ c & d << 1", "(| a (^ b (& c (<< d 1))))"},
		{"True and None", "(and True None)"},
	}
	for _, tc := range tests {
		t.Run(tc.formula, func(t *testing.T) {
			tree, err := Parse(tc.formula)
			require.NoError(t, err)
			assert.Equal(t, tc.want, Dump(tree))
		})
	}
}

func TestParse_Deterministic(t *testing.T) {
	const f = "max(a, b * 2, key=abs) if c[1:] else -d"
	first, err := Parse(f)
	require.NoError(t, err)
	second, err := Parse(f)
	require.NoError(t, err)
	assert.Equal(t, Dump(first), Dump(second))
	assert.Equal(t, first, second)
}

func TestParse_Spans(t *testing.T) {
	tree, err := Parse("foo + bar(1)")
	require.NoError(t, err)

	bin, ok := tree.(*Binary)
	require.True(t, ok)
	assert.Equal(t, Span{0, 12}, bin.Span())
	assert.Equal(t, Span{0, 3}, bin.X.Span())
	assert.Equal(t, Span{6, 12}, bin.Y.Span())
}

func TestParse_SyntaxErrors(t *testing.T) {
	tests := []struct {
		name    string
		formula string
		offset  int
	}{
		{"empty", "", 0},
		{"dangling operator", "1 +", 3},
		{"unbalanced paren", "(1 + 2", 6},
		{"assignment", "x = 1", 2},
		{"attribute", "x.y", 1},
		{"lambda", "lambda: 1", 0},
		{"missing else", "a if b", 6},
		{"statement", "import os", 7},
		{"positional after keyword", "f(a=1, 2)", 7},
		{"repeated keyword", "f(a=1, a=2)", 7},
		{"starred argument", "f(*xs)", 2},
		{"leading zero", "007", 0},
		{"integer too large", "99999999999999999999", 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.formula)
			require.Error(t, err)
			var fe *schema.FormulaError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, schema.ErrCodeSyntax, fe.Code)
			assert.Equal(t, tc.offset, fe.Details["offset"])
		})
	}
}

func TestParse_MultilinePosition(t *testing.T) {
	_, err := Parse("1 +\n  * 2")
	require.Error(t, err)
	var fe *schema.FormulaError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 2, fe.Details["line"])
	assert.Equal(t, 3, fe.Details["column"])
}

func TestParse_NestingLimit(t *testing.T) {
	t.Run("parentheses", func(t *testing.T) {
		f := strings.Repeat("(", 1000) + "1" + strings.Repeat(")", 1000)
		_, err := Parse(f)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too deeply nested")
	})

	t.Run("long operator chain", func(t *testing.T) {
		f := "1" + strings.Repeat(" + 1", 5000)
		_, err := Parse(f)
		require.Error(t, err)
		assert.Equal(t, schema.ErrCodeSyntax, schema.CodeOf(err))
	})

	t.Run("moderate nesting is fine", func(t *testing.T) {
		f := strings.Repeat("(", 100) + "1" + strings.Repeat(")", 100)
		_, err := Parse(f)
		require.NoError(t, err)
	})
}

package formula

import (
	"strings"

	"github.com/rendis/formula/pkg/schema"
)

// Splice replaces each reference whose name is a key of strs with the bound
// text. It makes a single pass: spliced text is never examined again. When no
// reference is spliced the input is returned unchanged.
//
// The spliced references must be in increasing, non-overlapping source order
// and lie within text; otherwise Splice fails with SPLICE_ORDER_ERROR.
func Splice(text string, refs []NameRef, strs map[string]string) (string, error) {
	var b strings.Builder
	cursor := 0
	spliced := false
	for _, ref := range refs {
		repl, ok := strs[ref.Name]
		if !ok {
			continue
		}
		if ref.Span.Start < cursor || ref.Span.End < ref.Span.Start || ref.Span.End > len(text) {
			return "", schema.NewErrorf(schema.ErrCodeSpliceOrder,
				"reference to '%s' at [%d, %d) is out of source order", ref.Name, ref.Span.Start, ref.Span.End).
				WithDetails(map[string]any{"name": ref.Name, "start": ref.Span.Start, "end": ref.Span.End, "cursor": cursor})
		}
		if !spliced {
			b.Grow(len(text) + len(repl))
			spliced = true
		}
		b.WriteString(text[cursor:ref.Span.Start])
		b.WriteString(repl)
		cursor = ref.Span.End
	}
	if !spliced {
		return text, nil
	}
	b.WriteString(text[cursor:])
	return b.String(), nil
}

package formula

import (
	"context"
	"strconv"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/rendis/formula/pkg/schema"
)

const hexDigits = "0123456789abcdef"

// DefaultMaxOutput bounds the encoded size of one result in bytes.
const DefaultMaxOutput = 1 << 22

// Encode renders a result as JSON the way Python's json.dumps does with its
// defaults: ", " between items, ASCII-only strings, NaN and Infinity spelled
// out. Only None, bool, int, float, str and lists or tuples of those are
// representable; anything else is a SERIALIZATION_ERROR.
func Encode(v Value) ([]byte, error) {
	enc := &encoder{ctx: context.Background()}
	if err := enc.value(v, 0); err != nil {
		return nil, err
	}
	return enc.buf, nil
}

// EncodeContext is Encode stopped by ctx and by the output growing past max
// bytes; max <= 0 means no size limit. Repetition shares elements, so a small
// result can expand into a very large encoding.
func EncodeContext(ctx context.Context, v Value, max int) ([]byte, error) {
	enc := &encoder{ctx: ctx, max: max}
	if err := enc.value(v, 0); err != nil {
		return nil, err
	}
	return enc.buf, nil
}

type encoder struct {
	ctx   context.Context
	max   int
	steps int
	buf   []byte
}

// check runs after every value written.
func (e *encoder) check() error {
	if e.max > 0 && len(e.buf) > e.max {
		return runtimeErr(kindResources, "result exceeds the output limit of %d bytes", e.max)
	}
	e.steps++
	if e.steps&0xff == 0 {
		if err := e.ctx.Err(); err != nil {
			return interrupted(err)
		}
	}
	return nil
}

func (e *encoder) value(v Value, depth int) error {
	if depth > maxDepth {
		return schema.NewError(schema.ErrCodeSerialization, "result is too deeply nested to serialize")
	}
	switch x := v.(type) {
	case nil:
		e.buf = append(e.buf, "null"...)
	case bool:
		e.buf = strconv.AppendBool(e.buf, x)
	case int64:
		e.buf = strconv.AppendInt(e.buf, x, 10)
	case float64:
		e.buf = append(e.buf, formatFloat(x, "Infinity", "NaN")...)
	case string:
		e.buf = appendString(e.buf, x)
	case List:
		return e.array(x, depth)
	case Tuple:
		return e.array(x, depth)
	default:
		return schema.NewErrorf(schema.ErrCodeSerialization, "Object of type %s is not JSON serializable", TypeName(v)).
			WithDetails(map[string]any{"type": TypeName(v)})
	}
	return e.check()
}

func (e *encoder) array(items []Value, depth int) error {
	e.buf = append(e.buf, '[')
	for i, item := range items {
		if i > 0 {
			e.buf = append(e.buf, ", "...)
		}
		if err := e.value(item, depth+1); err != nil {
			return err
		}
	}
	e.buf = append(e.buf, ']')
	return e.check()
}

func appendString(buf []byte, s string) []byte {
	buf = append(buf, '"')
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		switch {
		case r == '"':
			buf = append(buf, `\"`...)
		case r == '\\':
			buf = append(buf, `\\`...)
		case r == '\n':
			buf = append(buf, `\n`...)
		case r == '\r':
			buf = append(buf, `\r`...)
		case r == '\t':
			buf = append(buf, `\t`...)
		case r == '\b':
			buf = append(buf, `\b`...)
		case r == '\f':
			buf = append(buf, `\f`...)
		case r >= 0x20 && r < 0x7f:
			buf = append(buf, byte(r))
		case r > 0xffff:
			hi, lo := utf16.EncodeRune(r)
			buf = appendEscape(appendEscape(buf, hi), lo)
		default:
			buf = appendEscape(buf, r)
		}
	}
	return append(buf, '"')
}

func appendEscape(buf []byte, r rune) []byte {
	return append(buf, '\\', 'u',
		hexDigits[r>>12&0xf], hexDigits[r>>8&0xf], hexDigits[r>>4&0xf], hexDigits[r&0xf])
}

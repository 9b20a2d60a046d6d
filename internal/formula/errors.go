package formula

import (
	"context"
	"errors"
	"time"

	"github.com/rendis/formula/pkg/schema"
)

// Runtime error kinds, recorded under the "kind" detail so callers can tell a
// division by zero from a type mismatch without parsing messages.
const (
	kindType      = "TypeError"
	kindValue     = "ValueError"
	kindZeroDiv   = "ZeroDivisionError"
	kindIndex     = "IndexError"
	kindKey       = "KeyError"
	kindOverflow  = "OverflowError"
	kindStopIter  = "StopIteration"
	kindResources = "ResourceError"
)

func runtimeErr(kind, format string, args ...any) *schema.FormulaError {
	return schema.NewErrorf(schema.ErrCodeRuntime, format, args...).
		WithDetails(map[string]any{"kind": kind})
}

func typeErrorf(format string, args ...any) *schema.FormulaError {
	return runtimeErr(kindType, format, args...)
}

func valueErrorf(format string, args ...any) *schema.FormulaError {
	return runtimeErr(kindValue, format, args...)
}

func zeroDivision(msg string) *schema.FormulaError {
	return runtimeErr(kindZeroDiv, "%s", msg)
}

func overflowErrorf(format string, args ...any) *schema.FormulaError {
	return runtimeErr(kindOverflow, format, args...)
}

func indexErrorf(format string, args ...any) *schema.FormulaError {
	return runtimeErr(kindIndex, format, args...)
}

func unboundName(n *Name) *schema.FormulaError {
	return schema.NewErrorf(schema.ErrCodeUnboundName, "name '%s' is not defined", n.Ident).
		WithDetails(map[string]any{"name": n.Ident, "start": n.Pos.Start, "end": n.Pos.End})
}

func timeoutError(budget time.Duration) *schema.FormulaError {
	return schema.NewErrorf(schema.ErrCodeTimeout, "evaluation timed out after %s", budget).
		WithCause(context.DeadlineExceeded).
		WithDetails(map[string]any{"budget_ms": budget.Milliseconds()})
}

// interrupted converts a context error observed mid-evaluation.
func interrupted(err error) *schema.FormulaError {
	if errors.Is(err, context.DeadlineExceeded) {
		return schema.NewError(schema.ErrCodeTimeout, "evaluation timed out").WithCause(err)
	}
	return schema.NewError(schema.ErrCodeCancelled, "evaluation cancelled").WithCause(err)
}

func arityError(fn string, min, max, got int) *schema.FormulaError {
	switch {
	case min == max:
		return typeErrorf("%s() takes exactly %d argument%s (%d given)", fn, min, plural(min), got)
	case got < min:
		return typeErrorf("%s() takes at least %d argument%s (%d given)", fn, min, plural(min), got)
	default:
		return typeErrorf("%s() takes at most %d argument%s (%d given)", fn, max, plural(max), got)
	}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func unsupportedOperands(op string, x, y Value) *schema.FormulaError {
	return typeErrorf("unsupported operand type(s) for %s: '%s' and '%s'", op, TypeName(x), TypeName(y))
}

// wrapExternal reports a failure raised by a registry function.
func wrapExternal(name string, err error) error {
	var fe *schema.FormulaError
	if errors.As(err, &fe) && fe.Code == schema.ErrCodeTimeout {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeRuntime, "%s(): %s", name, schema.MessageOf(err)).
		WithCause(err).
		WithDetails(map[string]any{"kind": "ExternalError", "function": name})
}

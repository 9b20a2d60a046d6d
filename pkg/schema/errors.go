package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeSyntax        = "SYNTAX_ERROR"
	ErrCodeUnboundName   = "UNBOUND_NAME"
	ErrCodeTimeout       = "TIMEOUT_ERROR"
	ErrCodeRuntime       = "RUNTIME_ERROR"
	ErrCodeSpliceOrder   = "SPLICE_ORDER_ERROR"
	ErrCodeSerialization = "SERIALIZATION_ERROR"
	ErrCodeUnknownCmd    = "UNKNOWN_COMMAND"
	ErrCodeRequest       = "REQUEST_ERROR"
	ErrCodeBinding       = "BINDING_ERROR"
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeCancelled     = "CANCELLED"
	ErrCodeStore         = "STORE_ERROR"
)

// FormulaError is the structured error type for all formula operations.
type FormulaError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *FormulaError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FormulaError) Unwrap() error {
	return e.Cause
}

// NewError creates a new FormulaError.
func NewError(code, message string) *FormulaError {
	return &FormulaError{Code: code, Message: message}
}

// NewErrorf creates a new FormulaError with a formatted message.
func NewErrorf(code, format string, args ...any) *FormulaError {
	return &FormulaError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause attaches an underlying cause.
func (e *FormulaError) WithCause(err error) *FormulaError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FormulaError) WithDetails(details map[string]any) *FormulaError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first FormulaError in err's chain,
// or ErrCodeRuntime when err carries none.
func CodeOf(err error) string {
	var fe *FormulaError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ErrCodeRuntime
}

// MessageOf returns the human-readable message of err without the code prefix.
func MessageOf(err error) string {
	var fe *FormulaError
	if errors.As(err, &fe) {
		return fe.Message
	}
	return err.Error()
}

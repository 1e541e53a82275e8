package ir

import (
	"errors"
	"fmt"
)

// CompileError is the single error type surfaced by the compilation core.
//
// Every kind is terminal for the current compilation attempt; nothing in the
// core retries. Kinds:
//   - Conversion: a traced operation has no IR mapping
//   - Shape: an axis-order change or operator would lose information
//   - LayoutOverflow: no valid non-overlapping allocation exists
//   - UnsupportedOperator: a backend has no template for an operator kind
//   - InvalidGraph: structural invariants of the graph are violated
type CompileError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Operator identifies the affected operator, if any.
	Operator string

	// Variable identifies the affected variable, if any.
	Variable string

	// Backend identifies the backend for UnsupportedOperator errors.
	Backend string

	// Err is the underlying cause (optional).
	Err error
}

// ErrorCode categorizes compile errors.
type ErrorCode string

const (
	// ErrCodeConversion indicates an input operation has no IR mapping.
	ErrCodeConversion ErrorCode = "CONVERSION"

	// ErrCodeShape indicates a shape or axis-order violation.
	ErrCodeShape ErrorCode = "SHAPE"

	// ErrCodeLayoutOverflow indicates memory layout allocation failed.
	ErrCodeLayoutOverflow ErrorCode = "LAYOUT_OVERFLOW"

	// ErrCodeUnsupportedOperator indicates a backend lacks a template.
	ErrCodeUnsupportedOperator ErrorCode = "UNSUPPORTED_OPERATOR"

	// ErrCodeInvalidGraph indicates a graph invariant violation.
	ErrCodeInvalidGraph ErrorCode = "INVALID_GRAPH"
)

// Error implements the error interface.
func (e *CompileError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.Backend != "" && e.Operator != "":
		msg = fmt.Sprintf("%s (backend=%s, op=%s)", msg, e.Backend, e.Operator)
	case e.Operator != "":
		msg = fmt.Sprintf("%s (op=%s)", msg, e.Operator)
	case e.Variable != "":
		msg = fmt.Sprintf("%s (var=%s)", msg, e.Variable)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *CompileError) Unwrap() error {
	return e.Err
}

// NewConversionError creates a CompileError for an unmappable operation.
func NewConversionError(op, message string, cause error) *CompileError {
	return &CompileError{Code: ErrCodeConversion, Message: message, Operator: op, Err: cause}
}

// NewShapeError creates a CompileError for an information-losing shape change.
func NewShapeError(variable, message string) *CompileError {
	return &CompileError{Code: ErrCodeShape, Message: message, Variable: variable}
}

// NewLayoutOverflowError creates a CompileError for a failed allocation.
func NewLayoutOverflowError(variable, message string) *CompileError {
	return &CompileError{Code: ErrCodeLayoutOverflow, Message: message, Variable: variable}
}

// NewUnsupportedOperatorError creates a CompileError for a missing template.
func NewUnsupportedOperatorError(backend string, kind Kind, op string) *CompileError {
	return &CompileError{
		Code:     ErrCodeUnsupportedOperator,
		Message:  fmt.Sprintf("backend has no kernel for %s", kind),
		Operator: op,
		Backend:  backend,
	}
}

// NewInvalidGraphError creates a CompileError for a broken graph invariant.
func NewInvalidGraphError(message string, cause error) *CompileError {
	return &CompileError{Code: ErrCodeInvalidGraph, Message: message, Err: cause}
}

// CodeOf returns the code of the first CompileError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var ce *CompileError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// hasCode walks the whole chain, so a ConversionError wrapping a ShapeError
// matches both.
func hasCode(err error, code ErrorCode) bool {
	for err != nil {
		var ce *CompileError
		if !errors.As(err, &ce) {
			return false
		}
		if ce.Code == code {
			return true
		}
		err = ce.Err
	}
	return false
}

// IsConversionError returns true if the error chain holds a conversion error.
func IsConversionError(err error) bool { return hasCode(err, ErrCodeConversion) }

// IsShapeError returns true if the error chain holds a shape error.
func IsShapeError(err error) bool { return hasCode(err, ErrCodeShape) }

// IsLayoutOverflowError returns true if the error chain holds a layout overflow.
func IsLayoutOverflowError(err error) bool { return hasCode(err, ErrCodeLayoutOverflow) }

// IsUnsupportedOperatorError returns true if the error chain holds an
// unsupported operator error.
func IsUnsupportedOperatorError(err error) bool { return hasCode(err, ErrCodeUnsupportedOperator) }

// IsInvalidGraphError returns true if the error chain holds a graph violation.
func IsInvalidGraphError(err error) bool { return hasCode(err, ErrCodeInvalidGraph) }

// IsDeclared reports whether err is one of the declared compile errors.
func IsDeclared(err error) bool {
	return CodeOf(err) != ""
}

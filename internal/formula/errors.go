package formula

import (
	"errors"
	"fmt"
)

// Error codes attached to per-field computation errors.
const (
	CodeParseError          = "PARSE_ERROR"
	CodeDivisionByZero      = "DIVISION_BY_ZERO"
	CodeTypeMismatch        = "TYPE_MISMATCH"
	CodeUnknownFunction     = "UNKNOWN_FUNCTION"
	CodeUnresolvedReference = "UNRESOLVED_REFERENCE"
)

// ErrDivisionByZero is returned when / sees a zero divisor.
var ErrDivisionByZero = errors.New("division by zero")

// ParseError reports a malformed formula with the offending token and offset.
type ParseError struct {
	Pos   int
	Token string
	Msg   string
}

func (e *ParseError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("parse error at offset %d: %s", e.Pos, e.Msg)
	}
	return fmt.Sprintf("parse error at offset %d near %q: %s", e.Pos, e.Token, e.Msg)
}

// TypeMismatchError reports an operation applied to a value of the wrong type.
type TypeMismatchError struct {
	Op    string
	Value any
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch: %s cannot be applied to %T value %v", e.Op, e.Value, e.Value)
}

// UnknownFunctionError reports a call to a function outside the fixed library.
type UnknownFunctionError struct {
	Name string
}

func (e *UnknownFunctionError) Error() string {
	return fmt.Sprintf("unknown function %q", e.Name)
}

// UnresolvedReferenceError reports a reference to a field the schema does not define.
type UnresolvedReferenceError struct {
	Field string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("unresolved reference to field %q", e.Field)
}

// ErrorCode maps a formula error to its machine-readable code.
func ErrorCode(err error) string {
	var pe *ParseError
	if errors.As(err, &pe) {
		return CodeParseError
	}
	if errors.Is(err, ErrDivisionByZero) {
		return CodeDivisionByZero
	}
	var tm *TypeMismatchError
	if errors.As(err, &tm) {
		return CodeTypeMismatch
	}
	var uf *UnknownFunctionError
	if errors.As(err, &uf) {
		return CodeUnknownFunction
	}
	var ur *UnresolvedReferenceError
	if errors.As(err, &ur) {
		return CodeUnresolvedReference
	}
	return "COMPUTATION_ERROR"
}

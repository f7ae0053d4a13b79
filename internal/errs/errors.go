// Package errs defines the error taxonomy shared by the client packages.
//
// Construction problems (bad expressions, bad queries, bad values) are
// reported as *Error with a Code. Failures of the remote service are
// reported as *TransportError, and optimistic-concurrency rejections as
// *ConcurrencyError wrapping the transport failure.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Code categorizes client-side errors.
type Code string

const (
	// ErrCodeInvalidExpression indicates an expression referencing an unknown
	// field or comparing a field against a literal of the wrong type.
	ErrCodeInvalidExpression Code = "INVALID_EXPRESSION"

	// ErrCodeInvalidQuery indicates a malformed query (negative limit or
	// offset, conflicting clauses).
	ErrCodeInvalidQuery Code = "INVALID_QUERY"

	// ErrCodeMaterialization indicates a response record that cannot be
	// turned into an entity instance.
	ErrCodeMaterialization Code = "MATERIALIZATION"

	// ErrCodeInvalidValue indicates a value assigned to a property that does
	// not fit the property's declared type.
	ErrCodeInvalidValue Code = "INVALID_VALUE"

	// ErrCodeInvalidState indicates an operation not permitted in the
	// entity's current lifecycle state.
	ErrCodeInvalidState Code = "INVALID_STATE"

	// ErrCodeInvalidSchema indicates a schema definition that violates
	// the data model (duplicate names, nullable keys, unknown targets).
	ErrCodeInvalidSchema Code = "INVALID_SCHEMA"
)

// Error is a client-side error with a category code.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Field names the offending property or clause, when there is one.
	Field string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Field != "" {
		fmt.Fprintf(&b, " (field=%s)", e.Field)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code Code, field, format string, args ...any) *Error {
	return &Error{Code: code, Field: field, Message: fmt.Sprintf(format, args...)}
}

// InvalidExpression creates an INVALID_EXPRESSION error for field.
func InvalidExpression(field, format string, args ...any) *Error {
	return newError(ErrCodeInvalidExpression, field, format, args...)
}

// InvalidQuery creates an INVALID_QUERY error.
func InvalidQuery(field, format string, args ...any) *Error {
	return newError(ErrCodeInvalidQuery, field, format, args...)
}

// Materialization creates a MATERIALIZATION error.
func Materialization(field, format string, args ...any) *Error {
	return newError(ErrCodeMaterialization, field, format, args...)
}

// InvalidValue creates an INVALID_VALUE error.
func InvalidValue(field, format string, args ...any) *Error {
	return newError(ErrCodeInvalidValue, field, format, args...)
}

// InvalidState creates an INVALID_STATE error.
func InvalidState(format string, args ...any) *Error {
	return newError(ErrCodeInvalidState, "", format, args...)
}

// InvalidSchema creates an INVALID_SCHEMA error.
func InvalidSchema(field, format string, args ...any) *Error {
	return newError(ErrCodeInvalidSchema, field, format, args...)
}

func hasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsInvalidExpression reports whether err is an INVALID_EXPRESSION error.
// Uses errors.As to handle wrapped errors.
func IsInvalidExpression(err error) bool {
	return hasCode(err, ErrCodeInvalidExpression)
}

// IsInvalidQuery reports whether err is an INVALID_QUERY error.
func IsInvalidQuery(err error) bool {
	return hasCode(err, ErrCodeInvalidQuery)
}

// IsMaterialization reports whether err is a MATERIALIZATION error.
func IsMaterialization(err error) bool {
	return hasCode(err, ErrCodeMaterialization)
}

// IsInvalidValue reports whether err is an INVALID_VALUE error.
func IsInvalidValue(err error) bool {
	return hasCode(err, ErrCodeInvalidValue)
}

// IsInvalidState reports whether err is an INVALID_STATE error.
func IsInvalidState(err error) bool {
	return hasCode(err, ErrCodeInvalidState)
}

// IsInvalidSchema reports whether err is an INVALID_SCHEMA error.
func IsInvalidSchema(err error) bool {
	return hasCode(err, ErrCodeInvalidSchema)
}

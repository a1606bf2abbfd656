// Package coord carries the error taxonomy shared by the registry, the
// presence broadcaster and the request coordinator. Every error that reaches
// a client maps to one wire code; anything unrecognized is reported as a
// persistence failure local to the triggering connection.
package coord

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeValidation     Code = "validation"
	CodeNotFound       Code = "not-found"
	CodeConflict       Code = "conflict"
	CodeAlreadyHandled Code = "already-handled"
	CodeForbidden      Code = "forbidden"
	CodePersistence    Code = "persistence"
)

// Error is a coded coordination error. The code is stable wire surface; the
// message is for humans.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Message }

func Validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func Conflictf(format string, args ...any) *Error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

// AlreadyHandledf marks a lost conditional-update race: the request moved out
// of the expected status before the caller's transition applied.
func AlreadyHandledf(format string, args ...any) *Error {
	return &Error{Code: CodeAlreadyHandled, Message: fmt.Sprintf(format, args...)}
}

func Forbiddenf(format string, args ...any) *Error {
	return &Error{Code: CodeForbidden, Message: fmt.Sprintf(format, args...)}
}

func Persistencef(format string, args ...any) *Error {
	return &Error{Code: CodePersistence, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the wire code from err, defaulting to persistence for
// anything that is not a coordination error.
func CodeOf(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodePersistence
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
